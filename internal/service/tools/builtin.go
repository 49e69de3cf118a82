package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/google/uuid"

	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
)

// Document is an artifact written by the document tools.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Kind        string    `json:"kind"`
	Content     string    `json:"content,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ErrDocumentNotFound is returned for unknown document ids.
var ErrDocumentNotFound = errors.New("document not found")

// Documents keeps documents in memory.
type Documents struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewDocuments creates an empty document set.
func NewDocuments() *Documents {
	return &Documents{docs: make(map[string]Document)}
}

func (d *Documents) put(doc Document) Document {
	doc.UpdatedAt = time.Now().UTC()
	d.mu.Lock()
	d.docs[doc.ID] = doc
	d.mu.Unlock()
	return doc
}

// Get returns a document by id.
func (d *Documents) Get(id string) (Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.docs[id]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

// Search matches query words against titles and contents, newest first.
func (d *Documents) Search(query string, limit int) []Document {
	words := strings.Fields(strings.ToLower(query))
	d.mu.RLock()
	var hits []Document
	for _, doc := range d.docs {
		haystack := strings.ToLower(doc.Title + " " + doc.Content)
		for _, w := range words {
			if strings.Contains(haystack, w) {
				hits = append(hits, doc)
				break
			}
		}
	}
	d.mu.RUnlock()
	sort.Slice(hits, func(i, j int) bool { return hits[i].UpdatedAt.After(hits[j].UpdatedAt) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// BuiltinOptions configures RegisterBuiltins.
type BuiltinOptions struct {
	Documents *Documents
	// WeatherURL is the forecast endpoint, open-meteo compatible.
	WeatherURL string
	HTTPClient *http.Client
}

// RegisterBuiltins registers the built-in tools. getWeather needs approval since it
// calls out to a third party.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	if opts.Documents == nil {
		opts.Documents = NewDocuments()
	}
	if opts.WeatherURL == "" {
		opts.WeatherURL = "https://api.open-meteo.com/v1/forecast"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	type builtin struct {
		id       agent.ToolID
		approval bool
		build    func() (tool.InvokableTool, error)
	}
	builtins := []builtin{
		{agent.ToolGetWeather, true, func() (tool.InvokableTool, error) { return weatherTool(opts.HTTPClient, opts.WeatherURL) }},
		{agent.ToolGetDirections, false, directionsTool},
		{agent.ToolCreateDocument, false, func() (tool.InvokableTool, error) { return createDocumentTool(opts.Documents) }},
		{agent.ToolUpdateDocument, false, func() (tool.InvokableTool, error) { return updateDocumentTool(opts.Documents) }},
		{agent.ToolRequestSuggestions, false, func() (tool.InvokableTool, error) { return suggestionsTool(opts.Documents) }},
		{agent.ToolSearchCollection, false, func() (tool.InvokableTool, error) { return searchTool(opts.Documents) }},
	}
	for _, b := range builtins {
		t, err := b.build()
		if err != nil {
			return fmt.Errorf("build tool %s: %w", b.id, err)
		}
		r.Register(b.id, t, b.approval)
	}
	return nil
}

type weatherInput struct {
	Latitude  float64 `json:"latitude" jsonschema:"description=Latitude of the location"`
	Longitude float64 `json:"longitude" jsonschema:"description=Longitude of the location"`
}

func weatherTool(client *http.Client, endpoint string) (tool.InvokableTool, error) {
	return utils.InferTool(string(agent.ToolGetWeather), "Get the current weather at a location",
		func(ctx context.Context, in weatherInput) (json.RawMessage, error) {
			q := url.Values{}
			q.Set("latitude", fmt.Sprintf("%f", in.Latitude))
			q.Set("longitude", fmt.Sprintf("%f", in.Longitude))
			q.Set("current", "temperature_2m")
			q.Set("daily", "sunrise,sunset")
			q.Set("timezone", "auto")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
			if err != nil {
				return nil, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("weather request: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("weather request: status %d", resp.StatusCode)
			}
			var out json.RawMessage
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return nil, fmt.Errorf("decode weather: %w", err)
			}
			return out, nil
		})
}

type directionsInput struct {
	Origin      string `json:"origin" jsonschema:"description=Where the trip starts"`
	Destination string `json:"destination" jsonschema:"description=Where the trip ends"`
	Mode        string `json:"mode,omitempty" jsonschema:"description=driving, walking, bicycling or transit"`
}

type directionsOutput struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"`
	URL         string `json:"url"`
}

func directionsTool() (tool.InvokableTool, error) {
	return utils.InferTool(string(agent.ToolGetDirections), "Build a directions link between two places",
		func(ctx context.Context, in directionsInput) (directionsOutput, error) {
			if strings.TrimSpace(in.Origin) == "" || strings.TrimSpace(in.Destination) == "" {
				return directionsOutput{}, errors.New("origin and destination are required")
			}
			mode := in.Mode
			if mode == "" {
				mode = "driving"
			}
			q := url.Values{}
			q.Set("api", "1")
			q.Set("origin", in.Origin)
			q.Set("destination", in.Destination)
			q.Set("travelmode", mode)
			return directionsOutput{
				Origin:      in.Origin,
				Destination: in.Destination,
				Mode:        mode,
				URL:         "https://www.google.com/maps/dir/?" + q.Encode(),
			}, nil
		})
}

type createDocumentInput struct {
	Title string `json:"title" jsonschema:"description=Title of the document"`
	Kind  string `json:"kind,omitempty" jsonschema:"description=text, code or sheet"`
}

func createDocumentTool(docs *Documents) (tool.InvokableTool, error) {
	return utils.InferTool(string(agent.ToolCreateDocument), "Create a document for writing or content creation",
		func(ctx context.Context, in createDocumentInput) (Document, error) {
			if strings.TrimSpace(in.Title) == "" {
				return Document{}, errors.New("title is required")
			}
			kind := in.Kind
			if kind == "" {
				kind = "text"
			}
			return docs.put(Document{ID: uuid.NewString(), Title: in.Title, Kind: kind}), nil
		})
}

type updateDocumentInput struct {
	ID          string `json:"id" jsonschema:"description=Id of the document to update"`
	Description string `json:"description" jsonschema:"description=The change to make"`
}

func updateDocumentTool(docs *Documents) (tool.InvokableTool, error) {
	return utils.InferTool(string(agent.ToolUpdateDocument), "Update a document with the given description",
		func(ctx context.Context, in updateDocumentInput) (Document, error) {
			doc, err := docs.Get(in.ID)
			if err != nil {
				return Document{}, err
			}
			if doc.Content != "" {
				doc.Content += "\n"
			}
			doc.Content += in.Description
			return docs.put(doc), nil
		})
}

type suggestionsInput struct {
	DocumentID string `json:"documentId" jsonschema:"description=Id of the document to review"`
}

func suggestionsTool(docs *Documents) (tool.InvokableTool, error) {
	return utils.InferTool(string(agent.ToolRequestSuggestions), "Request suggestions for a document",
		func(ctx context.Context, in suggestionsInput) (Document, error) {
			doc, err := docs.Get(in.DocumentID)
			if err != nil {
				return Document{}, err
			}
			doc.Suggestions = append(doc.Suggestions, "Review: "+doc.Title)
			return docs.put(doc), nil
		})
}

type searchInput struct {
	Query string `json:"query" jsonschema:"description=Words to look for"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results"`
}

func searchTool(docs *Documents) (tool.InvokableTool, error) {
	return utils.InferTool(string(agent.ToolSearchCollection), "Search the collection",
		func(ctx context.Context, in searchInput) ([]Document, error) {
			limit := in.Limit
			if limit <= 0 {
				limit = 5
			}
			return docs.Search(in.Query, limit), nil
		})
}
