// Package audit writes one document per auth operation into an
// Elasticsearch index so operators can trace logins, refreshes and
// registrations after the fact.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
)

const indexName = "auth-audit"

type Recorder struct {
	es *elasticsearch.Client
}

func NewClient(url, user, password string) (*elasticsearch.Client, error) {
	esCfg := elasticsearch.Config{
		Addresses: []string{url},
		Username:  user,
		Password:  password,
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Printf("elasticsearch error response: %s", body)
		return nil, fmt.Errorf("elasticsearch error: %s", res.Status())
	}

	return client, nil
}

func NewRecorder(es *elasticsearch.Client) *Recorder {
	return &Recorder{es: es}
}

func (r *Recorder) Record(ctx context.Context, event string, fields map[string]any) error {
	doc := map[string]any{
		"event": event,
		"at":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		doc[k] = v
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("audit: encode failed: %w", err)
	}

	res, err := r.es.Index(
		indexName,
		&buf,
		r.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("audit: index failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("audit: index failed: %s", res.Status())
	}

	return nil
}
