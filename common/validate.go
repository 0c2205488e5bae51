// Copyright 2022 The httpfan Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// subscriberIDWrapper wrapper for running validation against a subscriber ID
type subscriberIDWrapper struct {
	ID string `validate:"required,email"`
}

// ValidateSubscriberID check whether a subscriber ID is a usable registry key.
// Subscriber identities are email addresses.
func ValidateSubscriberID(id string, validate *validator.Validate) error {
	t := subscriberIDWrapper{ID: id}
	if err := validate.Struct(&t); err != nil {
		return fmt.Errorf("subscriber ID '%s' is not a valid identity: %w", id, err)
	}
	return nil
}

// notificationContentWrapper wrapper for running validation against publish content
type notificationContentWrapper struct {
	Title string `validate:"required"`
	Body  string `validate:"required"`
}

// ValidateNotificationContent check whether notification title and body are usable
func ValidateNotificationContent(title, body string, validate *validator.Validate) error {
	t := notificationContentWrapper{Title: title, Body: body}
	if err := validate.Struct(&t); err != nil {
		return fmt.Errorf("notification content rejected: %w", err)
	}
	return nil
}
