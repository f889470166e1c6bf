package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	t.Parallel()

	require.Equal(t, "scanner.analyze-one", Subject("scanner", "analyze-one"))
	require.Equal(t, "analyze-batch", Subject("", "analyze-batch"))
}
