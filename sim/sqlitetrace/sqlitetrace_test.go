package sqlitetrace

import (
	"path/filepath"
	"testing"

	"github.com/soypat/adin2111/regs"
	"github.com/soypat/adin2111/sim"
	"github.com/soypat/adin2111/wire"
	"github.com/stretchr/testify/require"
)

func TestWriterRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.sqlite3")
	w, err := Open(Config{Path: path, BatchSize: 2})
	require.NoError(t, err)
	require.NotEmpty(t, w.Session())

	m := sim.New(sim.ADIN2111{}, sim.WithTracer(w))
	for _, tx := range []wire.Transaction{
		{Dir: wire.Read, Addr: regs.IDVER},
		{Dir: wire.Read, Addr: regs.PHYID},
		{Dir: wire.Write, Addr: regs.IMASK0, Value: 0x40},
	} {
		b := wire.Encode(tx)
		require.NoError(t, m.Tx(b, make([]byte, len(b))))
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	recs, err := Load(path, w.Session())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, regs.IDVER, recs[0].Addr)
	require.EqualValues(t, regs.ChipIDADIN2111, recs[0].Value)
	require.Equal(t, wire.Read, recs[1].Dir)
	require.Equal(t, wire.Write, recs[2].Dir)
	require.EqualValues(t, 0x40, recs[2].Value)
	require.EqualValues(t, 3, recs[2].Seq)

	recs, err = Load(path, "other-session")
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.sqlite3"), "")
	require.Error(t, err)
}
