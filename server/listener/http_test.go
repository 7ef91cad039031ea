package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helixdb/helix/settings"
)

func TestHTTPListenerLifecycle(t *testing.T) {
	spec := settings.Port{
		Protocol: ProtocolGraphQLHTTP,
		Address:  "127.0.0.1",
		Port:     0,
		Database: "helixdb",
		User:     "http",
	}
	h := newHTTPListener(spec)
	ctx := context.Background()

	require.NoError(t, h.Start(ctx))
	addr := h.Addr()
	require.NotNil(t, addr)

	resp, err := http.Get(fmt.Sprintf("http://%s/server-info", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, ProtocolGraphQLHTTP, info["protocol"])

	require.NoError(t, h.Stop(ctx))
	// Stop is idempotent.
	require.NoError(t, h.Stop(ctx))
}
