package gateway

import "strings"

// Wire types for the Gemini batch API. Only the fields the orchestrator
// consumes are modeled.

type fileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateContentRequest struct {
	Contents         []content           `json:"contents"`
	GenerationConfig *GenerationSettings `json:"generationConfig,omitempty"`
}

// batchRequestLine is one line of the uploaded request JSONL.
type batchRequestLine struct {
	Key     string                 `json:"key"`
	Request generateContentRequest `json:"request"`
}

type inputConfig struct {
	FileName string `json:"fileName"`
}

type batchSpec struct {
	DisplayName string      `json:"displayName"`
	InputConfig inputConfig `json:"inputConfig"`
}

type createBatchRequest struct {
	Batch batchSpec `json:"batch"`
}

// batchResource is the batch as returned by create and get.
type batchResource struct {
	Name     string `json:"name"`
	Metadata *struct {
		State         string `json:"state"`
		ResponsesFile string `json:"responsesFile"`
	} `json:"metadata"`
	Response *struct {
		ResponsesFile string `json:"responsesFile"`
	} `json:"response"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *batchResource) state() string {
	if b.Metadata != nil {
		return b.Metadata.State
	}
	return ""
}

func (b *batchResource) responsesFile() string {
	if b.Response != nil && b.Response.ResponsesFile != "" {
		return b.Response.ResponsesFile
	}
	if b.Metadata != nil {
		return b.Metadata.ResponsesFile
	}
	return ""
}

// mapState translates service state names to the gateway contract.
func mapState(s string) BatchState {
	switch strings.TrimPrefix(s, "BATCH_STATE_") {
	case "PENDING":
		return StatePending
	case "RUNNING":
		return StateRunning
	case "SUCCEEDED":
		return StateSucceeded
	case "PARTIALLY_SUCCEEDED":
		return StatePartiallySucceeded
	case "FAILED":
		return StateFailed
	case "CANCELLED":
		return StateCancelled
	case "EXPIRED":
		return StateExpired
	default:
		// Unknown states are treated as still running; the batch stays
		// active and will be re-polled.
		return StateRunning
	}
}

// batchResponseLine is one line of the downloaded results JSONL.
type batchResponseLine struct {
	Key      string                   `json:"key"`
	Response *generateContentResponse `json:"response"`
	Status   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// text concatenates the text parts of the first candidate.
func (r *generateContentResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
