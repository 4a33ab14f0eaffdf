package internal

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"
	"trade-chat/domain"

	"github.com/dgraph-io/badger/v4"
)

//go:embed inspect.html
var templatesFS embed.FS

const DefaultPrefix = "conv:"

type InspectRow struct {
	Key       string
	Type      string
	Timestamp string
	EntityID  string
	Parties   string
	Detail    string
	Counters  string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// ScanRows maps every key under prefix. Values that fail to decode still get a raw row.
func ScanRows(db *badger.DB, prefix string, mapper RowMapper) ([]InspectRow, error) {
	if mapper == nil {
		mapper = DefaultMapper
	}
	var rows []InspectRow
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rows = append(rows, mapper(string(item.Key()), val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}

// StartDebugServer serves an HTML view of the store. The caller shuts the returned server down.
func StartDebugServer(db *badger.DB, port int, endpoint string, mapper RowMapper, statsProvider StatsProvider) *http.Server {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = DefaultPrefix
		}
		data := PageData{Prefix: prefix, Stats: make(map[string]any)}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}
		rows, err := ScanRows(db, prefix, mapper)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Items = rows
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = server.ListenAndServe()
	}()
	return server
}

func DefaultMapper(key string, val []byte) InspectRow {
	return InspectRow{
		Key:       key,
		Type:      "RAW",
		Timestamp: "--:--:--",
		EntityID:  "--------",
		Parties:   "-",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
		Counters:  "-",
	}
}

// ConversationMapper decodes conversations and messages, other keys stay raw.
func ConversationMapper(key string, val []byte) InspectRow {
	row := DefaultMapper(key, val)
	switch {
	case strings.HasPrefix(key, "conv:"):
		var c domain.Conversation
		if err := json.Unmarshal(val, &c); err != nil {
			row.Detail = "Error: unmarshal failed"
			return row
		}
		row.Type = "CONVERSATION"
		row.Timestamp = c.UpdatedAt.Format(time.DateTime)
		row.EntityID = shortID(c.ID)
		row.Parties = fmt.Sprintf("buyer=%s supplier=%s", c.BuyerID, c.SupplierID)
		row.Detail = c.LastMessage
		row.Counters = fmt.Sprintf("unread b:%d s:%d msgs:%d cleared b:%s s:%s",
			c.UnreadCountBuyer, c.UnreadCountSupplier, c.MessageCount,
			formatCleared(c.ClearedByBuyer), formatCleared(c.ClearedBySupplier))
	case strings.HasPrefix(key, "msg:"):
		var m domain.Message
		if err := json.Unmarshal(val, &m); err != nil {
			row.Detail = "Error: unmarshal failed"
			return row
		}
		row.Type = "MESSAGE"
		row.Timestamp = m.SentAt.Format(time.DateTime)
		row.EntityID = shortID(m.ID)
		row.Parties = m.SenderID + " -> " + m.ReceiverID
		row.Detail = m.Content
		row.Counters = fmt.Sprintf("seq:%d read:%t", m.Seq, m.Read)
	}
	return row
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatCleared(at *time.Time) string {
	if at == nil {
		return "-"
	}
	return at.Format(time.DateTime)
}
