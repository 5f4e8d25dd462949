package events_test

import (
	"testing"
	"time"

	"github.com/nyaruka/gocommon/jsonx"
	"github.com/stretchr/testify/assert"
	"github.com/thebandlist/presenced/core/presence"
	"github.com/thebandlist/presenced/web/events"
)

func TestStatus(t *testing.T) {
	e := events.NewStatus(time.Date(2024, 5, 2, 16, 5, 4, 0, time.UTC), 123456789012345678, presence.StatusIdle, events.SourceWarmUp)

	assert.Equal(t, events.TypeStatus, e.Type())
	assert.Equal(t, time.Date(2024, 5, 2, 16, 5, 4, 0, time.UTC), e.Time())
	assert.JSONEq(t, `{"type":"status","time":"2024-05-02T16:05:04Z","user_id":"123456789012345678","status":"idle","source":"warmup"}`, string(jsonx.MustMarshal(e)))
}
