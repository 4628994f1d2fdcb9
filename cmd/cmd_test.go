package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blacktop/pagecast/internal/config"
	"github.com/blacktop/pagecast/internal/media"
	"github.com/blacktop/pagecast/internal/metrics"
	"github.com/blacktop/pagecast/internal/publish"
	"github.com/blacktop/pagecast/internal/queue"
	"github.com/blacktop/pagecast/internal/scheduler"
	"github.com/blacktop/pagecast/internal/seen"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTargets(t *testing.T) {
	got, err := normalizeTargets([]string{" Twitter", "mastodon", "twitter"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mastodon", "twitter"}, got)

	got, err = normalizeTargets([]string{"mastodon", "all"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bluesky", "mastodon", "twitter"}, got)

	_, err = normalizeTargets([]string{"myspace"})
	assert.ErrorContains(t, err, `unsupported target "myspace"`)

	_, err = normalizeTargets(nil)
	assert.Error(t, err)

	_, err = normalizeTargets([]string{" "})
	assert.ErrorContains(t, err, "no targets selected")
}

func TestResolveMessage(t *testing.T) {
	t.Cleanup(func() { messageFlag = "" })
	cmd := &cobra.Command{}

	messageFlag = ""
	cmd.SetIn(strings.NewReader("  from stdin \n"))
	msg, err := resolveMessage(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", msg)

	msg, err = resolveMessage(cmd, []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", msg)

	messageFlag = "flag"
	_, err = resolveMessage(cmd, []string{"arg"})
	assert.Error(t, err)

	messageFlag = ""
	cmd.SetIn(strings.NewReader(""))
	_, err = resolveMessage(cmd, nil)
	assert.ErrorContains(t, err, "message is required")
}

func TestRegisterDefaultChannels(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Graph.AccessToken = "token"
	cfg.SeenDB = filepath.Join(dir, "seen.db")

	store, err := seen.Open(cfg.SeenDB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d := &deps{
		cfg:     cfg,
		graph:   newGraph(cfg),
		images:  media.New(filepath.Join(dir, "images")),
		seen:    store,
		metrics: metrics.New(prometheus.NewRegistry()),
		queues:  map[string]*queue.File{},
	}
	ctl := scheduler.NewController()
	require.NoError(t, d.register(context.Background(), ctl))

	assert.Equal(t, []string{"tour", "nz", "insta"}, ctl.Channels())
	assert.Contains(t, d.queues, "tour")
	assert.Contains(t, d.queues, "nz")
	assert.NotContains(t, d.queues, "insta")

	st, err := ctl.ChannelStatus("insta")
	require.NoError(t, err)
	assert.Equal(t, scheduler.KindSync, st.Kind)

	tour, _ := cfg.Channel("tour")
	p, err := d.pagePoster(context.Background(), tour)
	require.NoError(t, err)
	fan, ok := p.(*publish.Fanout)
	require.True(t, ok)
	assert.Equal(t, "facebook+instagram", fan.Name())
}

func TestRegisterWithoutTokenFails(t *testing.T) {
	cfg := config.Default()
	d := &deps{
		cfg:     cfg,
		graph:   newGraph(cfg),
		metrics: metrics.New(prometheus.NewRegistry()),
		queues:  map[string]*queue.File{},
	}
	err := d.register(context.Background(), scheduler.NewController())
	var mc publish.MissingConfigError
	assert.ErrorAs(t, err, &mc)
}

func TestEnvPosterMissingCredentials(t *testing.T) {
	t.Setenv("PAGECAST_MASTODON_SERVER", "")
	t.Setenv("PAGECAST_MASTODON_ACCESS_TOKEN", "")

	_, err := envPoster(context.Background(), config.MirrorMastodon)
	var mc publish.MissingConfigError
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, "mastodon", mc.Provider)
	assert.Equal(t, []string{"PAGECAST_MASTODON_SERVER", "PAGECAST_MASTODON_ACCESS_TOKEN"}, mc.Settings)

	t.Setenv("PAGECAST_MASTODON_SERVER", "https://mastodon.social")
	t.Setenv("PAGECAST_MASTODON_ACCESS_TOKEN", "token")
	p, err := envPoster(context.Background(), config.MirrorMastodon)
	require.NoError(t, err)
	assert.Equal(t, "mastodon", p.Name())

	_, err = envPoster(context.Background(), "myspace")
	assert.ErrorContains(t, err, "not implemented")
}
