package download

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"harvester/models"
)

const apiQueryRows = 100

// APIQuery asks the bibliographic API for recent works of the journal's
// online ISSN and emits one direct-download item per returned identifier.
// The response shape follows the Crossref works endpoint.
func (m *Manager) APIQuery(ctx context.Context, item models.HarvestableItem) *APIQueryResult {
	journal := item.Journal
	result := &APIQueryResult{}

	queryURL := fmt.Sprintf("%s/%s/works?rows=%d",
		m.global.APIQueryURL, url.PathEscape(journal.OnlineISSN), apiQueryRows)

	body, err := m.fetchRaw(ctx, queryURL, "")
	if err != nil {
		result.Error = err
		return result
	}

	var response struct {
		Message struct {
			Items []struct {
				DOI string `json:"DOI"`
				URL string `json:"URL"`
			} `json:"items"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		result.Error = fmt.Errorf("failed to decode API query response: %w", err)
		return result
	}

	for _, work := range response.Message.Items {
		link := work.URL
		if link == "" && work.DOI != "" {
			link = "https://doi.org/" + work.DOI
		}
		if link == "" {
			continue
		}
		result.Items = append(result.Items, m.items.NewItem(journal, link))
	}

	return result
}
