package common

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalTimerRecurring(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	lock := sync.Mutex{}
	value := 0
	callback := func() error {
		lock.Lock()
		defer lock.Unlock()
		value++
		return nil
	}
	readValue := func() int {
		lock.Lock()
		defer lock.Unlock()
		return value
	}

	assert.Nil(uut.Start(time.Millisecond*50, callback))
	time.Sleep(time.Millisecond * 180)
	assert.GreaterOrEqual(readValue(), 2)

	assert.Nil(uut.Stop())
	observed := readValue()
	time.Sleep(time.Millisecond * 120)
	assert.Equal(observed, readValue())
}

func TestIntervalTimerStopIdempotent(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	// Stop before start is safe
	assert.Nil(uut.Stop())

	fired := make(chan bool, 8)
	assert.Nil(uut.Start(time.Millisecond*30, func() error {
		select {
		case fired <- true:
		default:
		}
		return nil
	}))
	select {
	case <-fired:
	case <-time.After(time.Millisecond * 500):
		assert.FailNow("timer never fired")
	}

	assert.Nil(uut.Stop())
	assert.Nil(uut.Stop())
}
