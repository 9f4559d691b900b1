package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/franckalain/nutritrack/internal/access"
	"github.com/franckalain/nutritrack/internal/capture"
	"github.com/franckalain/nutritrack/internal/identity"
	"github.com/franckalain/nutritrack/internal/models"
)

// client is one connected app shell. It owns its identity session, its
// access gate and at most one capture pipeline.
type client struct {
	id     string
	srv    *Server
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	identity *identity.TokenProvider
	gate     *access.Gate
	device   *device
	images   *imageStore
	release  []func()

	mu       sync.Mutex
	userID   string
	pipeline *capture.Pipeline
	handle   capture.Handle
}

func (s *Server) newClient(id string, conn *websocket.Conn) (*client, error) {
	provider, err := identity.NewTokenProvider(s.cfg.IdentitySecret, s.cfg.IdentityIssuer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:       id,
		srv:      s,
		conn:     conn,
		logger:   s.logger.With("client_id", id),
		ctx:      ctx,
		cancel:   cancel,
		identity: provider,
		gate:     access.NewGate(),
		device:   &device{},
		images:   newImageStore(s.cfg.ImageDir),
	}

	c.release = append(c.release, c.gate.Subscribe(c.onGuards))
	c.release = append(c.release, identity.Bind(provider, c.gate))
	return c, nil
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *client) readLoop() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("error reading message", "error", err)
			}
			return
		}

		// Parse message
		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
			c.logger.Debug("error parsing message", "error", err)
			c.sendError(codeBadRequest, "Invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

// background runs fn outside the read loop so that a cancel can reach the
// pipeline while an upload is in flight.
func (c *client) background(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *client) close() {
	c.cancel()
	c.dropPipeline()
	c.wg.Wait()
	c.images.sweep()
	for i := len(c.release) - 1; i >= 0; i-- {
		c.release[i]()
	}
	c.logger.Debug("client disconnected")
}

// onGuards forwards every access change to the shell. Leaving the tabs
// group discards any capture in progress.
func (c *client) onGuards(g models.AccessGuards) {
	if g.Screen() != models.ScreenTabs {
		c.dropPipeline()
	}
	c.sendMessage("guards", guardsMessage{
		Guards: g,
		Screen: g.Screen(),
		User:   c.identity.Current(),
	})
}

// pipelineFor returns the pipeline for userID, replacing one that belongs
// to a previous user.
func (c *client) pipelineFor(userID string) (*capture.Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipeline != nil && c.userID == userID {
		return c.pipeline, nil
	}
	if c.pipeline != nil {
		c.pipeline.Reset()
	}

	p, err := capture.New(userID, capture.Deps{
		Camera:     c.device,
		Gallery:    c.device,
		Recognizer: c.srv.cfg.Recognizer,
		Journal:    c.srv.cfg.Journal,
	},
		capture.WithLogger(c.logger),
		capture.WithMetrics(c.srv.cfg.Metrics),
		capture.WithTimeout(c.srv.cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}
	c.userID = userID
	c.pipeline = p
	c.handle = ""
	return p, nil
}

func (c *client) dropPipeline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipeline != nil {
		c.pipeline.Reset()
	}
	c.pipeline = nil
	c.userID = ""
	c.handle = ""
}

// current returns the active pipeline and handle. A non-empty sessionID
// from the shell must match the active handle.
func (c *client) current(sessionID string) (*capture.Pipeline, capture.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipeline == nil || c.handle == "" {
		return nil, "", capture.ErrStaleSession
	}
	if sessionID != "" && capture.Handle(sessionID) != c.handle {
		return nil, "", capture.ErrStaleSession
	}
	return c.pipeline, c.handle, nil
}

func (c *client) setHandle(p *capture.Pipeline, h capture.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipeline == p {
		c.handle = h
	}
}

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// imageStore keeps uploaded images on disk where the recognizer can read
// them, and removes the ones no session or record refers to.
type imageStore struct {
	dir string

	mu    sync.Mutex
	files map[string]string // uri -> path
}

func newImageStore(dir string) *imageStore {
	return &imageStore{dir: dir, files: map[string]string{}}
}

func (s *imageStore) save(data []byte, filename string) (models.ImageRef, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !safeExt.MatchString(ext) {
		ext = ".jpg"
	}
	path := filepath.Join(s.dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return models.ImageRef{}, fmt.Errorf("error staging image: %w", err)
	}
	uri := "file://" + path

	s.mu.Lock()
	s.files[uri] = path
	s.mu.Unlock()
	return models.ImageRef{URI: uri}, nil
}

// release hands uri over to a committed record; it is no longer removed.
func (s *imageStore) release(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, uri)
}

// sweep removes every stored image except those in keep.
func (s *imageStore) sweep(keep ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uri, path := range s.files {
		if slices.Contains(keep, uri) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			continue
		}
		delete(s.files, uri)
	}
}

// sweepImages drops images that are neither part of the active session nor
// waiting to be captured.
func (c *client) sweepImages(sess capture.Session) {
	c.images.sweep(append(c.device.pending(), sess.Image.URI)...)
}

// device stands in for the phone's camera and picker: the shell takes the
// photo and sends it, the pipeline then collects it from here.
type device struct {
	mu         sync.Mutex
	permission bool
	staged     *models.ImageRef
	taken      string
	err        error
}

func (d *device) setPermission(granted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.permission = granted
}

// pending lists the staged image and the one a capture is still handing
// to the pipeline.
func (d *device) pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var uris []string
	if d.staged != nil {
		uris = append(uris, d.staged.URI)
	}
	if d.taken != "" {
		uris = append(uris, d.taken)
	}
	return uris
}

// settle marks the taken image as owned by the pipeline, or dropped.
func (d *device) settle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.taken = ""
}

func (d *device) stage(img models.ImageRef, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staged = nil
	d.err = err
	if err == nil {
		d.staged = &img
	}
}

func (d *device) take() (models.ImageRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() {
		d.staged = nil
		d.err = nil
	}()
	if d.err != nil {
		return models.ImageRef{}, d.err
	}
	if d.staged == nil {
		return models.ImageRef{}, errors.New("no image staged")
	}
	d.taken = d.staged.URI
	return *d.staged, nil
}

func (d *device) RequestPermission(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission, nil
}

func (d *device) Capture(ctx context.Context) (models.ImageRef, error) {
	return d.take()
}

func (d *device) Pick(ctx context.Context) (models.ImageRef, error) {
	return d.take()
}
