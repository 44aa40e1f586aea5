package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sharegate/internal/config"
	"github.com/alanyoungcy/sharegate/internal/domain"
)

func TestNew_UnknownType(t *testing.T) {
	_, err := New(context.Background(), config.ChainConfig{Type: "tendermint", Name: "x"}, testLogger())
	assert.ErrorIs(t, err, domain.ErrUnknownChain)
}

func TestNew_MoveDispatch(t *testing.T) {
	c, err := New(context.Background(), moveConfig("http://unused.invalid"), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "sui", c.Name())
	assert.Equal(t, config.ChainTypeMove, c.Kind())
	// Cursor chains start from the empty cursor, not a block offset.
	assert.Equal(t, domain.Position{}, c.StartPosition())
}
