package core

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMultiNotifierFansOut(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	multi := MultiNotifier{a, nil, b}

	multi.Notify(context.Background(), Notice{Severity: SeverityWarning, Message: "all limited"})

	assert.Len(t, a.all(), 1)
	assert.Len(t, b.all(), 1)
	assert.Equal(t, "all limited", b.all()[0].Message)
}

func TestLogNotifierUsesSeverityLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	n := NewLogNotifier(log)
	n.Notify(context.Background(), Notice{Severity: SeverityError, Message: "billing limit confirmed", Index: 2, Account: "Account 3"})

	out := buf.String()
	assert.Contains(t, out, "level=error")
	assert.Contains(t, out, "billing limit confirmed")
	assert.Contains(t, out, `account="Account 3"`)
	assert.Contains(t, out, "index=2")
}
