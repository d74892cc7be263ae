package types

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

// QueryParams is the body of a claim question request.
type QueryParams struct {
	Query        string `json:"query" validate:"required"`
	TopK         int    `json:"top_k"`
	UseReasoning *bool  `json:"use_reasoning"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *QueryParams) Validate() map[string]string {
	validate := validator.New()
	if err := validate.Struct(params); err != nil {
		errs := err.(validator.ValidationErrors)
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: http.StatusUnprocessableEntity,
		Errors: errors,
	}
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

// UploadResponse reports the outcome of a document upload.
type UploadResponse struct {
	Message       string `json:"message"`
	Filename      string `json:"filename"`
	ChunksCreated int    `json:"chunks_created"`
	Success       bool   `json:"success"`
}

// SearchHit is one raw retrieval result, embedding excluded.
type SearchHit struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	ChunkID    string  `json:"chunk_id"`
	Section    string  `json:"section,omitempty"`
	Score      float32 `json:"similarity_score"`
	TokenCount int     `json:"token_count"`
}

// DocumentListResponse aggregates per-source statistics.
type DocumentListResponse struct {
	TotalDocuments int             `json:"total_documents"`
	TotalChunks    int             `json:"total_chunks"`
	Documents      []DocumentStats `json:"documents"`
}
