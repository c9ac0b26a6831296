package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	nhttp "net/http"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/drand/kyber"
	lru "github.com/hashicorp/golang-lru"
	clock "github.com/jonboulle/clockwork"
	json "github.com/nikkolasg/hexjson"

	"github.com/ideal-lab5/etf-cli/common/chain"
	"github.com/ideal-lab5/etf-cli/common/log"
	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/internal/metrics"
	"github.com/ideal-lab5/etf-cli/internal/slot"
	"github.com/ideal-lab5/etf-cli/key"
)

// ErrNotReleased is returned for slots the server does not release yet.
var ErrNotReleased = errors.New("slot not released")

var errClientClosed = fmt.Errorf("client closed")

const defaultClientExec = "unknown"
const defaultHTTPTimeout = 60 * time.Second
const defaultCacheSize = 1024
const maxBodySize = 1 << 16

// retryInterval is the pause between two attempts when the server lags
// behind the local clock.
const retryInterval = time.Second
const maxRetries = 10

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used to decide which slots are released.
func WithClock(c clock.Clock) Option {
	return func(h *Client) {
		h.clock = c
	}
}

// WithCacheSize sets how many verified keys are kept.
func WithCacheSize(n int) Option {
	return func(h *Client) {
		h.cacheSize = n
	}
}

// Client fetches verified slot keys from a slot server.
type Client struct {
	root   string
	client *nhttp.Client
	Agent  string

	info     *chain.Info
	pub      *key.MasterPublic
	schedule *slot.Schedule

	cache     *lru.ARCCache
	cacheSize int
	clock     clock.Clock
	l         log.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client pointing to a slot server. When infoHash is set the
// server must advertise info with that hash.
func New(ctx context.Context, l log.Logger, url string, infoHash []byte, transport nhttp.RoundTripper, opts ...Option) (*Client, error) {
	c, err := newClient(l, url, transport, opts...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info, err := c.FetchInfo(ctx, infoHash)
	if err != nil {
		return nil, err
	}
	if err := c.setInfo(info); err != nil {
		return nil, err
	}
	return c, nil
}

// NewWithInfo creates a client when the server information is already known.
func NewWithInfo(l log.Logger, url string, info *chain.Info, transport nhttp.RoundTripper, opts ...Option) (*Client, error) {
	c, err := newClient(l, url, transport, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.setInfo(info); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(l log.Logger, url string, transport nhttp.RoundTripper, opts ...Option) (*Client, error) {
	if transport == nil {
		transport = nhttp.DefaultTransport
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	pn, err := os.Executable()
	if err != nil {
		pn = defaultClientExec
	}
	c := &Client{
		root:      url,
		client:    &nhttp.Client{Timeout: defaultHTTPTimeout, Transport: transport},
		Agent:     fmt.Sprintf("etf-client-%s/1.0", path.Base(pn)),
		cacheSize: defaultCacheSize,
		clock:     clock.NewRealClock(),
		l:         l.Named("slot_client"),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cache, err = lru.NewARC(c.cacheSize)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (h *Client) setInfo(info *chain.Info) error {
	pub, err := info.MasterPublic()
	if err != nil {
		return err
	}
	s := info.Schedule()
	if err := s.Validate(); err != nil {
		return fmt.Errorf("server advertises an invalid schedule: %w", err)
	}
	h.info, h.pub, h.schedule = info, pub, s
	return nil
}

// String returns the name of this client.
func (h *Client) String() string {
	return fmt.Sprintf("HTTP(%q)", h.root)
}

// Info returns the information of the slot server.
func (h *Client) Info() *chain.Info {
	return h.info
}

// Schedule returns the release schedule of the slot server.
func (h *Client) Schedule() *slot.Schedule {
	return h.schedule
}

// MasterPublic returns the master public key of the slot server.
func (h *Client) MasterPublic() *key.MasterPublic {
	return h.pub
}

// FetchInfo reads the /info of the server and checks it against infoHash
// when set.
func (h *Client) FetchInfo(ctx context.Context, infoHash []byte) (*chain.Info, error) {
	resp, err := h.get(ctx, h.root+"info")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != nhttp.StatusOK {
		return nil, fmt.Errorf("fetching info: unexpected status %d", resp.StatusCode)
	}

	info, err := chain.InfoFromJSON(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(infoHash) == 0 {
		h.l.Warnw("", "http_client", "instantiated without trustroot", "infoHash", info.HashString())
	} else if !bytes.Equal(info.Hash(), infoHash) {
		return nil, fmt.Errorf("%s does not advertise the expected authority (%x vs %x)", h.root, info.Hash(), infoHash)
	}
	return info, nil
}

// SlotKey returns the verified identity key of round.
func (h *Client) SlotKey(ctx context.Context, round uint64) (kyber.Point, error) {
	if val, ok := h.cache.Get(round); ok {
		metrics.ClientCacheHits.Inc()
		return val.(kyber.Point), nil
	}
	d, err := h.fetchSlotKey(ctx, round)
	if err != nil {
		metrics.ClientRequests.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	metrics.ClientRequests.WithLabelValues(metrics.ResultOK).Inc()
	h.cache.Add(round, d)
	return d, nil
}

func (h *Client) fetchSlotKey(ctx context.Context, round uint64) (kyber.Point, error) {
	resp, err := h.get(ctx, h.root+"slots/"+strconv.FormatUint(round, 10))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case nhttp.StatusOK:
	case nhttp.StatusTooEarly:
		return nil, fmt.Errorf("%w: round %d, retry after %ss", ErrNotReleased, round, resp.Header.Get("Retry-After"))
	default:
		return nil, fmt.Errorf("fetching round %d: unexpected status %d", round, resp.StatusCode)
	}

	var sk chain.SlotKey
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&sk); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	id := h.schedule.Identity(round)
	if sk.Round != round || sk.Identity != string(id) {
		return nil, fmt.Errorf("server answered round %d (%q) for round %d", sk.Round, sk.Identity, round)
	}
	d, err := crypto.UnmarshalPoint(h.pub.Scheme.IdentityGroup, sk.Key)
	if err != nil {
		return nil, fmt.Errorf("round %d: %w", round, err)
	}
	if err := h.pub.VerifyIdentityKey(id, d); err != nil {
		return nil, fmt.Errorf("round %d: %w", round, err)
	}
	return d, nil
}

func (h *Client) get(ctx context.Context, url string) (*nhttp.Response, error) {
	select {
	case <-h.done:
		return nil, errClientClosed
	default:
	}
	req, err := nhttp.NewRequestWithContext(ctx, nhttp.MethodGet, url, nhttp.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", h.Agent)
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doing request: %w", err)
	}
	return resp, nil
}

// Secrets returns the slot-aligned secrets of ids: the compressed identity
// key of every released slot and an empty placeholder for the others. Every
// id must be a slot identity of the server's schedule.
func (h *Client) Secrets(ctx context.Context, ids [][]byte) ([][]byte, error) {
	rounds, err := h.rounds(ids)
	if err != nil {
		return nil, err
	}
	now := h.clock.Now()
	out := make([][]byte, len(ids))
	for i, round := range rounds {
		out[i] = []byte{}
		if !h.schedule.Released(now, round) {
			continue
		}
		d, err := h.SlotKey(ctx, round)
		if errors.Is(err, ErrNotReleased) {
			h.l.Debugw("server behind local clock", "round", round)
			continue
		}
		if err != nil {
			return nil, err
		}
		if out[i], err = d.MarshalBinary(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WaitSecrets waits until t of the slots of ids are released and returns
// their secrets.
func (h *Client) WaitSecrets(ctx context.Context, ids [][]byte, t int) ([][]byte, error) {
	rounds, err := h.rounds(ids)
	if err != nil {
		return nil, err
	}
	if t < 1 || t > len(rounds) {
		return nil, fmt.Errorf("threshold %d out of range for %d ids", t, len(rounds))
	}
	sorted := append([]uint64(nil), rounds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	target := sorted[t-1]

	h.l.Infow("waiting for slot release", "round", target, "at", h.schedule.ReleaseTime(target))
	if err := h.schedule.WaitFor(ctx, h.clock, target); err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		secrets, err := h.Secrets(ctx, ids)
		if err != nil {
			return nil, err
		}
		if released(secrets) >= t || attempt == maxRetries {
			return secrets, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.done:
			return nil, errClientClosed
		case <-h.clock.After(retryInterval):
		}
	}
}

func (h *Client) rounds(ids [][]byte) ([]uint64, error) {
	rounds := make([]uint64, len(ids))
	for i, id := range ids {
		r, err := h.schedule.RoundOf(id)
		if err != nil {
			return nil, fmt.Errorf("id %d: %w", i, err)
		}
		rounds[i] = r
	}
	return rounds, nil
}

func released(secrets [][]byte) int {
	n := 0
	for _, s := range secrets {
		if len(s) > 0 {
			n++
		}
	}
	return n
}

// Close stops the client. Requests in flight are not interrupted. Calling
// Close more than once is a no-op.
func (h *Client) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		h.client.CloseIdleConnections()
	})
	return nil
}
