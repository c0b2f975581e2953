// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package connection

import (
	"context"
	"crypto/tls"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tetgame/tet/pkg/errutil"
)

func TestMQTTOptions_Defaults(t *testing.T) {
	opts := MQTTOptions{Broker: "tcp://localhost:1883", QoS: 7}
	opts.applyDefaults()

	assert.True(t, strings.HasPrefix(opts.ClientID, "tet-"))
	assert.Equal(t, DefaultQoS, opts.QoS)
	assert.Equal(t, DefaultConnectTimeout, opts.ConnectTimeout)
	assert.NotNil(t, opts.Logger)
}

func TestMQTT_ClientOptions(t *testing.T) {
	plain := NewMQTT(MQTTOptions{Broker: "tcp://localhost:1883", Username: "op", Password: "pw"}).clientOptions()
	assert.Equal(t, "op", plain.Username)
	assert.Equal(t, "pw", plain.Password)
	assert.Nil(t, plain.TLSConfig)

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	secure := NewMQTT(MQTTOptions{Broker: "ssl://localhost:8883", TLSConfig: tlsConfig}).clientOptions()
	assert.Same(t, tlsConfig, secure.TLSConfig)
	assert.Equal(t, "ssl://localhost:8883", secure.Servers[0].String())
}

func TestNewClientID_Unique(t *testing.T) {
	assert.NotEqual(t, NewClientID("x"), NewClientID("x"))
}

func TestMQTT_RequiresConnection(t *testing.T) {
	m := NewMQTT(MQTTOptions{Broker: "tcp://127.0.0.1:1"})
	ctx := context.Background()

	assert.False(t, m.IsConnected())
	errutil.AssertErrorCode(t, m.Publish(ctx, "t", nil, false), CodeNotConnected)
	errutil.AssertErrorCode(t, m.Subscribe(ctx, "t"), CodeNotConnected)
	errutil.AssertErrorCode(t, m.Disconnect(ctx), CodeNotConnected)
	errutil.AssertErrorCode(t, m.Subscribe(ctx, "t/#/x"), CodeInvalidFilter)
}
