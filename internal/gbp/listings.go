package gbp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type Account struct {
	Name        string `json:"name"`
	AccountName string `json:"accountName"`
	Type        string `json:"type"`
}

// Location is a Business Profile location. Raw keeps the full payload.
type Location struct {
	Name              string          `json:"name"`
	Title             string          `json:"title"`
	StoreCode         string          `json:"storeCode"`
	PlaceID           string          `json:"placeId"`
	Timezone          string          `json:"timezone"`
	StorefrontAddress json.RawMessage `json:"storefrontAddress"`
	Raw               json.RawMessage `json:"-"`
}

type Reviewer struct {
	DisplayName string `json:"displayName"`
}

type ReviewReply struct {
	Comment      string `json:"comment"`
	UpdateTime   string `json:"updateTime"`
	LanguageCode string `json:"languageCode"`
}

type Review struct {
	ReviewID    string       `json:"reviewId"`
	Reviewer    Reviewer     `json:"reviewer"`
	StarRating  string       `json:"starRating"`
	Comment     string       `json:"comment"`
	UpdateTime  string       `json:"updateTime"`
	ReviewReply *ReviewReply `json:"reviewReply"`
}

var starRatings = map[string]int{"ONE": 1, "TWO": 2, "THREE": 3, "FOUR": 4, "FIVE": 5}

// Stars converts the API star rating enum to 1..5, or 0 when unspecified.
func (r Review) Stars() int {
	if n, ok := starRatings[strings.ToUpper(r.StarRating)]; ok {
		return n
	}
	if n, err := strconv.Atoi(r.StarRating); err == nil && n >= 1 && n <= 5 {
		return n
	}
	return 0
}

// ListAccounts returns the accounts the user can manage.
func (g *Gateway) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	var out struct {
		Accounts []Account `json:"accounts"`
	}
	if err := g.doJSON(ctx, userID, http.MethodGet, "/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// ListAccountLocations returns the locations under one account.
func (g *Gateway) ListAccountLocations(ctx context.Context, userID, accountName string) ([]Location, error) {
	return g.listLocations(ctx, userID, "/"+escapeResource(accountName)+"/locations")
}

// ListLocations returns every location visible to the user through the
// Business Information API.
func (g *Gateway) ListLocations(ctx context.Context, userID string) ([]Location, error) {
	q := url.Values{}
	q.Set("pageSize", "100")
	q.Set("readMask", "name,title,storeCode,placeId")
	return g.listLocations(ctx, userID, g.endpoints.BusinessInfoBase+"/locations?"+q.Encode())
}

func (g *Gateway) listLocations(ctx context.Context, userID, target string) ([]Location, error) {
	var out struct {
		Locations []json.RawMessage `json:"locations"`
	}
	if err := g.doJSON(ctx, userID, http.MethodGet, target, nil, &out); err != nil {
		return nil, err
	}
	locations := make([]Location, 0, len(out.Locations))
	for _, raw := range out.Locations {
		var loc Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
		loc.Raw = raw
		locations = append(locations, loc)
	}
	return locations, nil
}

// ListReviews returns the first page of reviews of a location.
func (g *Gateway) ListReviews(ctx context.Context, userID, locationName string) ([]Review, error) {
	var out struct {
		Reviews []Review `json:"reviews"`
	}
	target := g.endpoints.ReviewsBase + "/" + escapeResource(locationName) + "/reviews?pageSize=100"
	if err := g.doJSON(ctx, userID, http.MethodGet, target, nil, &out); err != nil {
		return nil, err
	}
	return out.Reviews, nil
}

// UpdateReply publishes comment as the owner reply to a review.
func (g *Gateway) UpdateReply(ctx context.Context, userID, locationName, reviewID, comment string) error {
	target := g.endpoints.ReviewsBase + "/" + escapeResource(locationName) +
		"/reviews/" + url.PathEscape(reviewID) + ":updateReply"
	payload := map[string]any{"reply": map[string]string{"comment": comment}}
	return g.doJSON(ctx, userID, http.MethodPatch, target, payload, nil)
}

// escapeResource escapes each segment of a resource name like
// "accounts/1/locations/2" while keeping the separators.
func escapeResource(name string) string {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
