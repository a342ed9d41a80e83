// Package httpapi implements component G: the HTTP surface that maps
// `/v1/<application>/<queue>[/<message-ids>]` onto the queue engine
// (spec §4.G, wire details in §6). Routing is an explicit three-tier
// dispatch -- application, queue, message-batch -- rather than the
// traversal-container pattern the original Python implementation uses
// (spec §9 "Resource tree").
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/queuey-io/queuey/internal/apierr"
	"github.com/queuey-io/queuey/internal/auth"
	"github.com/queuey-io/queuey/internal/metadata"
	"github.com/queuey-io/queuey/internal/queue"
	"github.com/queuey-io/queuey/internal/storage"
	"github.com/queuey-io/queuey/internal/validate"
)

// maxBodyBytes bounds a single push/update request body, mirroring the
// teacher's fixed read-limit on its own RPC body (10 MiB there; Queuey
// message bodies are expected to be much smaller).
const maxBodyBytes = 4 << 20

// Server is the HTTP surface over a queue.Engine.
type Server struct {
	engine *queue.Engine
	keys   auth.KeyTable
	log    *slog.Logger
}

// New builds a Server. keys is the application-key lookup table (see
// internal/config); it may be replaced via SetKeyTable.
func New(engine *queue.Engine, keys auth.KeyTable, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, keys: keys, log: log}
}

// SetKeyTable replaces the application-key table. The replacement is a
// plain field assignment and is not synchronized with requests being
// served.
func (s *Server) SetKeyTable(keys auth.KeyTable) { s.keys = keys }

// Handler returns the top-level http.Handler, wrapped with OpenTelemetry
// request tracing the same "wrap, don't rewrite" way the teacher wraps
// its net/http surfaces.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/", s.handleV1)
	return otelhttp.NewHandler(mux, "queuey")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleV1 resolves the URL tree into (application, queue, message-id
// batch) tiers and dispatches to the matching resource handler.
func (s *Server) handleV1(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	path = strings.Trim(path, "/")
	segments := []string{}
	if path != "" {
		segments = strings.SplitN(path, "/", 3)
	}
	if len(segments) == 0 || segments[0] == "" {
		s.writeError(w, apierr.New(apierr.NotFound, "application name required"))
		return
	}
	app := segments[0]

	principals, err := auth.Principals(r.Header.Get("Authorization"), s.keys)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch len(segments) {
	case 1:
		s.handleApplication(w, r, app, principals)
	case 2:
		s.handleQueue(w, r, app, segments[1], principals)
	default:
		s.handleMessageBatch(w, r, app, segments[1], segments[2], principals)
	}
}

// --- application tier ----------------------------------------------

// isOwner reports whether principals carries the app:<app> grant -- the
// application tier (list/create queues) is only ever operated on by its
// own authenticated tenant, never by another application or by an
// anonymous caller, regardless of any individual queue's ACL.
func isOwner(principals []string, app string) bool {
	want := "app:" + app
	for _, p := range principals {
		if p == want {
			return true
		}
	}
	return false
}

func (s *Server) handleApplication(w http.ResponseWriter, r *http.Request, app string, principals []string) {
	if !isOwner(principals, app) {
		s.writeError(w, apierr.New(apierr.AccessDenied, "caller is not authenticated as application %q", app))
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.listQueues(w, r, app)
	case http.MethodPost:
		s.createQueue(w, r, app)
	default:
		s.writeError(w, apierr.New(apierr.NotFound, "method %s not allowed", r.Method))
	}
}

func (s *Server) listQueues(w http.ResponseWriter, r *http.Request, app string) {
	q := r.URL.Query()
	limit, err := validate.Limit(q.Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	opts := queue.ListOptions{
		Limit:        limit,
		Offset:       q.Get("offset"),
		Details:      q.Get("details") == "true",
		IncludeCount: q.Get("include_count") == "true",
	}

	views, count, err := s.engine.ListQueues(r.Context(), app, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}

	body := map[string]interface{}{"status": "ok", "queues": renderQueueViews(views)}
	if opts.IncludeCount {
		body["queue_count"] = count
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) createQueue(w http.ResponseWriter, r *http.Request, app string) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, apierr.New(apierr.InvalidParameter, "malformed form body"))
		return
	}
	queueName := r.Form.Get("queue_name")
	if err := validate.QueueName(queueName); err != nil {
		s.writeError(w, err)
		return
	}
	upd, err := validate.QueueUpdate(r.Form.Get("partitions"), r.Form.Get("type"), r.Form.Get("consistency"), r.Form.Get("principals"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	attrs, err := s.engine.CreateQueue(r.Context(), app, queueName, upd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, renderAttrs(attrs))
}

// --- queue tier -------------------------------------------------------

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request, app, queueName string, principals []string) {
	if err := s.authorizeQueue(r.Context(), app, queueName, principals, permissionFor(r.Method)); err != nil {
		s.writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.getMessages(w, r, app, queueName)
	case http.MethodPost:
		s.pushMessages(w, r, app, queueName)
	case http.MethodPut:
		s.updateQueue(w, r, app, queueName)
	case http.MethodDelete:
		s.deleteQueue(w, r, app, queueName)
	default:
		s.writeError(w, apierr.New(apierr.NotFound, "method %s not allowed", r.Method))
	}
}

// permissionFor maps a queue-tier HTTP method to the ACL permission it
// requires. GET reads messages (view); POST pushes new messages
// (create); PUT changes queue attributes (create_queue, the same grant
// that covers queue administration); DELETE truncates and deregisters
// the queue (delete_queue).
func permissionFor(method string) queue.Permission {
	switch method {
	case http.MethodGet:
		return queue.PermView
	case http.MethodPut:
		return queue.PermCreateQueue
	case http.MethodDelete:
		return queue.PermDeleteQueue
	default:
		return queue.PermCreate
	}
}

// authorizeQueue fetches the queue's attrs, assembles its ACL, and
// checks perm against the caller's principals. create/push are checked
// against the owning application's create grant via the assembled ACL.
func (s *Server) authorizeQueue(ctx context.Context, app, queueName string, principals []string, perm queue.Permission) error {
	attrs, err := s.engine.QueueAttrs(ctx, app, queueName)
	if err != nil {
		// A not-yet-registered queue has no ACL to check; creation is
		// handled separately by the application-tier POST handler.
		return err
	}
	acl := s.engine.ACL(attrs)
	if !acl.Allows(principals, perm) {
		return apierr.New(apierr.AccessDenied, "principals %v lack %s", principals, perm)
	}
	return nil
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request, app, queueName string) {
	q := r.URL.Query()
	limit, err := validate.Limit(q.Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	since, err := validate.Since(q.Get("since"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	defaultOrder := storage.Descending
	if since != nil {
		defaultOrder = storage.Ascending
	}
	order, err := validate.Order(q.Get("order"), defaultOrder)
	if err != nil {
		s.writeError(w, err)
		return
	}
	partitions, err := validate.QueuePartitions(q.Get("partitions"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	msgs, err := s.engine.GetMessages(r.Context(), app, queueName, queue.GetOptions{
		Partitions: partitions, Limit: limit, Since: since, Order: order, IncludeMetadata: true,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "messages": renderMessages(msgs)})
}

// pushMessages dispatches on Content-Type: a JSON body carrying a
// `messages` array is a batch push; any other content type is a single
// raw-body push (spec §9 "Bare-body vs. JSON-array POST dispatch").
func (s *Server) pushMessages(w http.ResponseWriter, r *http.Request, app, queueName string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, apierr.New(apierr.InvalidParameter, "failed to read request body"))
		return
	}

	var msgs []queue.PushMessage
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		msgs, err = decodeBatch(body)
	} else {
		msgs, err = singleMessage(body, r.Header.Get("X-TTL"), r.Header.Get("X-Partition"))
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	results, err := s.engine.PushBatch(r.Context(), app, queueName, msgs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"status": "ok", "messages": renderPushResults(results)})
}

type batchMessage struct {
	Body      string `json:"body"`
	Partition int    `json:"partition"`
	TTL       int    `json:"ttl"`
}

type batchRequest struct {
	Messages []batchMessage `json:"messages"`
}

func decodeBatch(body []byte) ([]queue.PushMessage, error) {
	var req batchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.New(apierr.InvalidParameter, "malformed JSON body")
	}
	out := make([]queue.PushMessage, len(req.Messages))
	for i, m := range req.Messages {
		if err := validate.Body([]byte(m.Body)); err != nil {
			return nil, err
		}
		ttl := m.TTL
		if ttl == 0 {
			ttl = validate.DefaultTTLSeconds
		} else if ttl < validate.MinTTLSeconds || ttl > validate.MaxTTLSeconds {
			return nil, apierr.Field("ttl", "must be between %d and %d", validate.MinTTLSeconds, validate.MaxTTLSeconds)
		}
		out[i] = queue.PushMessage{Body: []byte(m.Body), Partition: m.Partition, TTL: time.Duration(ttl) * time.Second}
	}
	return out, nil
}

func singleMessage(body []byte, ttlHeader, partitionHeader string) ([]queue.PushMessage, error) {
	if err := validate.Body(body); err != nil {
		return nil, err
	}
	ttl, err := validate.TTL(ttlHeader)
	if err != nil {
		return nil, err
	}
	partition := 0
	if partitionHeader != "" {
		n, err := strconv.Atoi(partitionHeader)
		if err != nil {
			return nil, apierr.Field("partition", "must be an integer")
		}
		partition = n
	}
	return []queue.PushMessage{{Body: body, Partition: partition, TTL: time.Duration(ttl) * time.Second}}, nil
}

func (s *Server) updateQueue(w http.ResponseWriter, r *http.Request, app, queueName string) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, apierr.New(apierr.InvalidParameter, "malformed form body"))
		return
	}
	upd, err := validate.QueueUpdate(r.Form.Get("partitions"), r.Form.Get("type"), r.Form.Get("consistency"), r.Form.Get("principals"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	attrs, err := s.engine.UpdateQueue(r.Context(), app, queueName, upd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renderAttrs(attrs))
}

func (s *Server) deleteQueue(w http.ResponseWriter, r *http.Request, app, queueName string) {
	if err := s.engine.DeleteQueue(r.Context(), app, queueName); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// --- message-batch tier ------------------------------------------------

func (s *Server) handleMessageBatch(w http.ResponseWriter, r *http.Request, app, queueName, idsParam string, principals []string) {
	// Validate the id-batch shape before touching storage or metadata at
	// all (spec §7: reject malformed input before any I/O).
	tokens, err := validate.MessageIDBatch(idsParam)
	if err != nil {
		s.writeError(w, err)
		return
	}

	perm := queue.PermView
	if r.Method == http.MethodPut || r.Method == http.MethodDelete {
		perm = queue.PermDelete
	}
	if err := s.authorizeQueue(r.Context(), app, queueName, principals, perm); err != nil {
		s.writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		msgs, err := s.engine.GetMessagesByIDs(r.Context(), app, queueName, tokens)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "messages": renderMessages(msgs)})
	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			s.writeError(w, apierr.New(apierr.InvalidParameter, "failed to read request body"))
			return
		}
		if err := validate.Body(body); err != nil {
			s.writeError(w, err)
			return
		}
		ttl, err := validate.TTL(r.Header.Get("X-TTL"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.engine.UpdateMessages(r.Context(), app, queueName, tokens, body, time.Duration(ttl)*time.Second); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	case http.MethodDelete:
		if err := s.engine.DeleteMessages(r.Context(), app, queueName, tokens); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	default:
		s.writeError(w, apierr.New(apierr.NotFound, "method %s not allowed", r.Method))
	}
}

// --- rendering ----------------------------------------------------------

func renderQueueViews(views []queue.QueueView) []map[string]interface{} {
	out := make([]map[string]interface{}, len(views))
	for i, v := range views {
		out[i] = map[string]interface{}{"queue_name": v.Name}
		if v.Partitions != 0 {
			out[i]["partitions"] = v.Partitions
			out[i]["type"] = v.Type
			out[i]["consistency"] = v.Consistency
			out[i]["principals"] = v.Principals
			out[i]["created"] = v.Created
		}
	}
	return out
}

func renderAttrs(a metadata.Attrs) map[string]interface{} {
	return map[string]interface{}{
		"status":      "ok",
		"queue_name":  a.QueueName,
		"partitions":  a.Partitions,
		"type":        a.Type,
		"consistency": a.Consistency,
		"principals":  a.Principals,
		"created":     a.Created,
	}
}

func renderMessages(msgs []queue.MessageDTO) []map[string]interface{} {
	out := make([]map[string]interface{}, len(msgs))
	for i, m := range msgs {
		out[i] = map[string]interface{}{
			"message_id": m.MessageID,
			"timestamp":  m.Timestamp,
			"body":       string(m.Body),
			"partition":  m.Partition,
			"metadata":   m.Metadata,
		}
	}
	return out
}

func renderPushResults(results []queue.PushResultDTO) []map[string]interface{} {
	out := make([]map[string]interface{}, len(results))
	for i, r := range results {
		out[i] = map[string]interface{}{
			"key":       r.Key,
			"timestamp": r.Timestamp,
			"partition": r.Partition,
		}
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := apierr.ToEnvelopeError(err)
	s.writeJSON(w, status, body)
}
