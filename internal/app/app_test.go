package app

import (
	"testing"

	"skillzio/internal/config"
	"skillzio/internal/gateway"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

func TestNewGateway(t *testing.T) {
	t.Run("fail, real gateway without a secret", func(t *testing.T) {
		_, _, err := newGateway(config.Config{GatewayBaseURL: "https://gateway.example.com", GatewayKeyID: "key_1"}, slogt.New(t))
		require.ErrorIs(t, err, gateway.ErrMissingSecret)
	})

	t.Run("ok, real gateway always verifies", func(t *testing.T) {
		gw, verify, err := newGateway(config.Config{GatewayBaseURL: "https://gateway.example.com", GatewayKeySecret: "s"}, slogt.New(t))
		require.NoError(t, err)
		require.True(t, verify)
		require.IsType(t, &gateway.Client{}, gw)
		require.False(t, gw.VerifySignature("order_1", "pay_1", ""))
	})

	t.Run("ok, sandbox with a secret verifies", func(t *testing.T) {
		gw, verify, err := newGateway(config.Config{GatewayKeySecret: "s"}, slogt.New(t))
		require.NoError(t, err)
		require.True(t, verify)
		require.True(t, gw.VerifySignature("order_1", "pay_1", gateway.Sign("s", "order_1", "pay_1")))
	})

	t.Run("ok, sandbox without a secret skips verification", func(t *testing.T) {
		_, verify, err := newGateway(config.Config{}, slogt.New(t))
		require.NoError(t, err)
		require.False(t, verify)
	})
}
