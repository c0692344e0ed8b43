package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/candyworks/sweetshop/internal/logging"
	"github.com/candyworks/sweetshop/internal/models"
)

// Service keeps the sweets index in sync with the catalog and serves the
// free-text ?q= search. Index writes are best effort, the DB stays the
// source of truth.
type Service struct {
	ES    *elasticsearch.Client
	Index string
}

// Enabled reports whether a search backend is actually wired; callers
// fall back to the database when it is not.
func (s *Service) Enabled() bool {
	return s != nil && s.ES != nil
}

func (s *Service) IndexSweet(ctx context.Context, sweet *models.Sweet) {
	if s == nil || s.ES == nil {
		return
	}

	doc, err := json.Marshal(sweet)
	if err != nil {
		return
	}

	res, err := s.ES.Index(
		s.Index,
		bytes.NewReader(doc),
		s.ES.Index.WithContext(ctx),
		s.ES.Index.WithDocumentID(strconv.FormatUint(uint64(sweet.ID), 10)),
	)
	if err != nil {
		logging.FromContext(ctx).Warn("es_index_failed", "sweet_id", sweet.ID, "error", err)
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		logging.FromContext(ctx).Warn("es_index_failed", "sweet_id", sweet.ID, "status", res.Status())
	}
}

func (s *Service) DeleteSweet(ctx context.Context, sweetID uint) {
	if s == nil || s.ES == nil {
		return
	}

	res, err := s.ES.Delete(
		s.Index,
		strconv.FormatUint(uint64(sweetID), 10),
		s.ES.Delete.WithContext(ctx),
	)
	if err != nil {
		logging.FromContext(ctx).Warn("es_delete_failed", "sweet_id", sweetID, "error", err)
		return
	}
	res.Body.Close()
}

func (s *Service) Search(ctx context.Context, query string, size int) (int64, []models.Sweet, error) {
	if s == nil || s.ES == nil {
		return 0, nil, fmt.Errorf("search backend not configured")
	}
	if size <= 0 || size > 100 {
		size = 25
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"name^2", "description", "category"},
				"fuzziness": "AUTO",
			},
		},
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, err
	}

	res, err := s.ES.Search(
		s.ES.Search.WithContext(ctx),
		s.ES.Search.WithIndex(s.Index),
		s.ES.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, nil, fmt.Errorf("search error: %s", res.Status())
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.Sweet `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, err
	}

	sweets := make([]models.Sweet, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		sweets[i] = hit.Source
	}
	return r.Hits.Total.Value, sweets, nil
}
