package twitter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/blacktop/pagecast/internal/publish"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	gerr := &gotwi.GotwiError{Title: "Forbidden", Detail: "duplicate content"}
	err := apiError(fmt.Errorf("call: %w", gerr))
	assert.EqualError(t, err, "Forbidden; duplicate content")

	plain := errors.New("dial tcp: timeout")
	assert.Same(t, plain, apiError(plain))
}

func TestPartialError(t *testing.T) {
	assert.NoError(t, partialError(nil))

	detail, title := "media too large", "Invalid Request"
	err := partialError([]resources.PartialError{{Detail: &detail}, {Title: &title}})
	assert.EqualError(t, err, "media too large; Invalid Request")

	assert.EqualError(t, partialError([]resources.PartialError{{}}), "unknown error")
}

func TestConfigFromEnv(t *testing.T) {
	for _, k := range []string{
		"PAGECAST_TWITTER_CONSUMER_KEY",
		"PAGECAST_TWITTER_CONSUMER_SECRET",
		"PAGECAST_TWITTER_ACCESS_TOKEN",
		"PAGECAST_TWITTER_ACCESS_TOKEN_SECRET",
	} {
		t.Setenv(k, "")
	}
	_, err := ConfigFromEnv()
	var mc publish.MissingConfigError
	require.ErrorAs(t, err, &mc)
	assert.Len(t, mc.Settings, 4)
	assert.Equal(t, "twitter", mc.Provider)
}
