package statusui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/jacokyle01/analysis-bridge/internal/models"
	"github.com/jacokyle01/analysis-bridge/internal/pubsub"
)

func TestUpdate_StatusEvent(t *testing.T) {
	ch := make(chan pubsub.Event[models.Status], 1)
	m := New("127.0.0.1:8080", models.Status{Engine: models.EngineStarting, Phase: models.PhaseIdle}, ch, nil)

	st := models.Status{
		Engine:   models.EngineReady,
		Phase:    models.PhaseAnalyzing,
		Client:   "c0ffee",
		Position: "startpos",
		Lines:    []models.AnalysisLine{{Score: "0.30", Depth: 22, UCIMoves: "e2e4 e7e5", SAN: "e4 e5"}},
	}
	ch <- pubsub.Event[models.Status]{Payload: st, Timestamp: time.Now()}

	msg := waitStatus(ch)()
	updated, cmd := m.Update(msg)
	require.NotNil(t, cmd, "keeps listening for status")

	view := updated.View()
	require.Contains(t, view, "ready")
	require.Contains(t, view, "c0ffee")
	require.Contains(t, view, "startpos")
	require.Contains(t, view, "0.30")
	require.Contains(t, view, "e4 e5")
}

func TestUpdate_LogTail(t *testing.T) {
	var tm tea.Model = New("addr", models.Status{}, nil, nil)
	for i := 0; i < maxLogLines+10; i++ {
		tm, _ = tm.Update(logMsg("entry"))
	}
	tm, _ = tm.Update(logMsg("latest entry"))

	m := tm.(Model)
	require.Len(t, m.logs, maxLogLines)
	require.Contains(t, m.View(), "latest entry")
}

func TestUpdate_QuitKeys(t *testing.T) {
	m := New("addr", models.Status{}, nil, nil)
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyEsc},
	} {
		_, cmd := m.Update(key)
		require.NotNil(t, cmd, key.String())
		require.IsType(t, tea.QuitMsg{}, cmd())
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	require.Nil(t, cmd)
}

func TestView_WaitingForClient(t *testing.T) {
	m := New("addr", models.Status{Engine: models.EngineTerminated, Phase: models.PhaseFatal}, nil, nil)
	view := m.View()
	require.Contains(t, view, "waiting for a client")
	require.Contains(t, view, "terminated")
}

func TestWaitStatus_ClosedChannel(t *testing.T) {
	ch := make(chan pubsub.Event[models.Status])
	close(ch)
	require.Nil(t, waitStatus(ch)())
	require.Nil(t, waitStatus(nil))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "abc…", truncate("abcdef", 4))
}
