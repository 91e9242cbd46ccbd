package zvuk

import "encoding/json"

// Wire types for the zvuk.com API. Only the fields the pipeline reads
// are declared.

type graphqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// getStream response: data.mediaContents[0].stream{expire,high,mid}.
type trackStream struct {
	Expire json.Number `json:"expire"`
	High   string      `json:"high"`
	Mid    string      `json:"mid"`
}

type mediaContent struct {
	Stream *trackStream `json:"stream"`
}

type getStreamResponse struct {
	Data struct {
		MediaContents []mediaContent `json:"mediaContents"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// search response: data.search.tracks.items[]{id,title,score}.
type searchTrackItem struct {
	ID    json.Number `json:"id"`
	Title string      `json:"title"`
	Score float64     `json:"score"`
}

type searchResponse struct {
	Data struct {
		Search struct {
			Tracks struct {
				Items []searchTrackItem `json:"items"`
			} `json:"tracks"`
		} `json:"search"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// tiny/profile response used to validate the cookie.
type profileResponse struct {
	Result struct {
		ID          int64 `json:"id"`
		IsAnonymous bool  `json:"is_anonymous"`
	} `json:"result"`
}
