package prime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNetworkDetails(t *testing.T) {
	details := networkDetails("base-mainnet")
	require.NotNil(t, details)
	require.Equal(t, "base", details.Id)
	require.Equal(t, "mainnet", details.Type)

	details = networkDetails("ethereum-sepolia")
	require.Equal(t, "ethereum", details.Id)
	require.Equal(t, "sepolia", details.Type)

	for _, network := range []string{"", "base", "-mainnet", "base-"} {
		require.Nil(t, networkDetails(network), network)
	}
}
