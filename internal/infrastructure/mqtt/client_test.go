package mqtt

import (
	"errors"
	"testing"

	"github.com/u3640877/transitive/internal/mqttsync"
)

// These tests cover the argument-validation paths; connection-dependent
// behaviour is exercised against a live Mosquitto broker in integration
// environments.

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: map[string]byte{}}

	var gotErr error
	client.Subscribe("", 1, func(err error, _ []mqttsync.Grant) { gotErr = err })
	if !errors.Is(gotErr, ErrInvalidTopic) {
		t.Errorf("Subscribe(\"\") error = %v, want ErrInvalidTopic", gotErr)
	}

	client.Subscribe("/a", 7, func(err error, _ []mqttsync.Grant) { gotErr = err })
	if !errors.Is(gotErr, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos=7) error = %v, want ErrInvalidQoS", gotErr)
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	if err := client.Publish("", nil, 1, true); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Publish("/a", nil, 9, true); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos=9) error = %v, want ErrInvalidQoS", err)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: map[string]byte{}}

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
}
