package progress

import (
	"bytes"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_MonotonicUnderConcurrency(t *testing.T) {
	rec := &Recorder{}
	c := NewCounter(rec, StageBatches, 1000, "%d features appended")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, c.Done())

	updates := rec.Updates(StageBatches)
	require.Len(t, updates, 1000)
	for i := 1; i < len(updates); i++ {
		assert.Greater(t, updates[i].Done, updates[i-1].Done, "progress must be strictly increasing")
	}
	assert.Equal(t, "1000 features appended", updates[len(updates)-1].Label)
}

func TestCounter_NilReporter(t *testing.T) {
	c := NewCounter(nil, StageAttachments, 2, "%d rows attachments")
	assert.Equal(t, 2, c.Add(2))
}

func TestUpdate_Percent(t *testing.T) {
	assert.Equal(t, 50.0, Update{Done: 5, Total: 10}.Percent())
	assert.Equal(t, 0.0, Update{Done: 5}.Percent())
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(zerolog.New(&buf))

	r.Info("CHUNK used: 100")
	r.Warn("Features not found")
	r.Progress(Update{Stage: StageBatches, Done: 100, Total: 250, Label: "100 features appended"})

	out := buf.String()
	assert.Contains(t, out, "CHUNK used: 100")
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"stage":"batches"`)
	assert.Contains(t, out, `"progress_pct":40`)
}

func TestRecorder_Filter(t *testing.T) {
	rec := &Recorder{}
	rec.Progress(Update{Stage: StageBatches, Done: 1})
	rec.Progress(Update{Stage: StageAttachments, Done: 1})
	rec.Warn("w")
	rec.Info("i")

	assert.Len(t, rec.Updates(""), 2)
	assert.Len(t, rec.Updates(StageAttachments), 1)
	assert.Equal(t, []string{"w"}, rec.Warnings())
	assert.Equal(t, []string{"i"}, rec.Infos())
}
