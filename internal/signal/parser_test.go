package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optrelay/signal-relay/internal/types"
)

func TestParse_BuySignal(t *testing.T) {
	d, err := Parse("XRPUSD,Buy Message from MT5,1764039334")
	require.NoError(t, err)
	assert.Equal(t, "XRPUSD", d.Asset)
	assert.Equal(t, types.DirectionRise, d.Type)
	assert.Equal(t, "1764039334", d.Timestamp)
	assert.Equal(t, "XRPUSD,Buy Message from MT5,1764039334", d.RawText)
}

func TestParse_SellSignal(t *testing.T) {
	d, err := Parse("EURUSD,Sell now,100")
	require.NoError(t, err)
	assert.Equal(t, types.DirectionFall, d.Type)
}

func TestParse_TooFewFields(t *testing.T) {
	for _, line := range []string{"", "EURUSD", "EURUSD,buy", "just some text"} {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrTooFewFields, "line %q", line)
	}
}

func TestParse_EmptyAsset(t *testing.T) {
	_, err := Parse("  ,buy now,100")
	assert.ErrorIs(t, err, ErrEmptyAsset)
}

func TestParse_UnrecognizedDirection(t *testing.T) {
	_, err := Parse("EURUSD,unclear,100")
	assert.ErrorIs(t, err, ErrUnrecognizedDirection)
}

func TestParse_DirectionKeywords(t *testing.T) {
	cases := []struct {
		message string
		want    types.Direction
	}{
		{"CALL option", types.DirectionRise},
		{"going long here", types.DirectionRise},
		{"price up expected", types.DirectionRise},
		{"bull flag", types.DirectionRise},
		{"rise incoming", types.DirectionRise},
		{"PUT option", types.DirectionFall},
		{"short it", types.DirectionFall},
		{"down we go", types.DirectionFall},
		{"bear market", types.DirectionFall},
		{"fall expected", types.DirectionFall},
	}
	for _, tc := range cases {
		d, err := Parse("BTCUSD," + tc.message + ",1700000000")
		require.NoError(t, err, "message %q", tc.message)
		assert.Equal(t, tc.want, d.Type, "message %q", tc.message)
	}
}

// The buy list is scanned before the sell list, so a message matching both
// resolves to RISE.
func TestParse_BuyListScannedFirst(t *testing.T) {
	d, err := Parse("BTCUSD,buy the dip before it falls,1700000000")
	require.NoError(t, err)
	assert.Equal(t, types.DirectionRise, d.Type)
}

func TestParse_ExtraFieldsIgnored(t *testing.T) {
	d, err := Parse("BTCUSD,buy,1700000000,extra,fields")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSD", d.Asset)
	assert.Equal(t, "1700000000", d.Timestamp)
}
