package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Gender is a closed set of values extracted from claim queries.
type Gender string

const (
	GenderMale    Gender = "Male"
	GenderFemale  Gender = "Female"
	GenderOther   Gender = "Other"
	GenderUnknown Gender = "Unknown"
)

// ParsedQuery is the structured form of a natural-language claim question.
// Zero values mean "not mentioned".
type ParsedQuery struct {
	OriginalQuery    string  `json:"original_query"`
	Age              int     `json:"age,omitempty"`
	Gender           Gender  `json:"gender,omitempty"`
	Procedure        string  `json:"procedure,omitempty"`
	Location         string  `json:"location,omitempty"`
	PolicyDuration   string  `json:"policy_duration,omitempty"`
	MedicalCondition string  `json:"medical_condition,omitempty"`
	AmountClaimed    string  `json:"amount_claimed,omitempty"`
	DateOfService    string  `json:"date_of_service,omitempty"`
	Confidence       float64 `json:"confidence"`
}

// EnhancedQuery builds a retrieval query from the extracted fields, falling
// back to the original text when nothing was extracted.
func (q *ParsedQuery) EnhancedQuery() string {
	var components []string
	if q.Procedure != "" {
		components = append(components, q.Procedure)
	}
	if q.MedicalCondition != "" {
		components = append(components, q.MedicalCondition)
	}
	if q.Age > 0 {
		components = append(components, fmt.Sprintf("age %d", q.Age))
	}
	if q.Gender != "" && q.Gender != GenderUnknown {
		components = append(components, strings.ToLower(string(q.Gender)))
	}
	if q.Location != "" {
		components = append(components, q.Location)
	}
	if len(components) == 0 {
		return q.OriginalQuery
	}
	return strings.Join(components, " ")
}

var (
	agePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d{1,3})\s*(?:years?\s*old|y\.?o\.?|M|F)`),
		regexp.MustCompile(`(?i)age\s*:?\s*(\d{1,3})`),
		regexp.MustCompile(`(?i)(\d{1,3})\s*(?:male|female)`),
	}
	genderPattern = regexp.MustCompile(`(?i)\b(male|female|M|F|man|woman)\b`)
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`₹\s*(\d+(?:,\d+)*(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)(\d+(?:,\d+)*(?:\.\d+)?)\s*(?:rupees?|INR|Rs\.?)`),
		regexp.MustCompile(`(?i)claim\s*(?:of|for)?\s*₹?\s*(\d+(?:,\d+)*(?:\.\d+)?)`),
	}
	durationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)[\s-]*(month|year)s?[\s-]*(?:policy|coverage|term)`),
		regexp.MustCompile(`(?i)(?:policy|coverage|term)\s*(?:of|for)?\s*(\d+)[\s-]*(month|year)s?`),
	}
)

var knownProcedures = []string{
	"knee surgery", "hip surgery", "heart surgery", "brain surgery",
	"appendectomy", "gallbladder surgery", "cataract surgery",
	"bypass surgery", "angioplasty", "chemotherapy", "dialysis",
}

var medicalKeywords = []string{
	"surgery", "operation", "procedure", "surgical",
	"treatment", "therapy", "medication", "medicine",
	"diagnosis", "condition", "disease", "illness",
	"emergency", "urgent", "critical", "accident",
}

var knownCities = []string{
	"mumbai", "delhi", "bangalore", "hyderabad", "chennai", "kolkata",
	"pune", "ahmedabad", "surat", "jaipur", "lucknow", "kanpur",
	"nagpur", "indore", "thane", "bhopal", "visakhapatnam",
}

// QueryParser extracts structured claim fields from free text, with an
// optional LLM pass that falls back to the regex extractors.
type QueryParser struct {
	client *openai.Client
	model  string
}

// NewQueryParser enables the LLM pass when an OpenAI key is configured.
func NewQueryParser() *QueryParser {
	p := &QueryParser{}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p.client = openai.NewClient(key)
		p.model = os.Getenv("PARSER_MODEL")
		if p.model == "" {
			p.model = openai.GPT3Dot5Turbo
		}
	}
	return p
}

func (p *QueryParser) Parse(query string) ParsedQuery {
	if p.client != nil {
		parsed, err := p.parseWithLLM(query)
		if err == nil {
			return parsed
		}
		log.Printf("[PARSER] LLM parsing failed, falling back to regex: %v", err)
	}
	return p.parseWithRegex(query)
}

func (p *QueryParser) parseWithRegex(query string) ParsedQuery {
	parsed := ParsedQuery{OriginalQuery: query}

	parsed.Age = extractAge(query)
	parsed.Gender = extractGender(query)
	parsed.AmountClaimed = extractAmount(query)
	parsed.PolicyDuration = extractDuration(query)
	parsed.Procedure = extractProcedure(query)
	parsed.Location = extractLocation(query)

	found := 0
	if parsed.Age > 0 {
		found++
	}
	if parsed.Gender != "" {
		found++
	}
	if parsed.Procedure != "" {
		found++
	}
	if parsed.Location != "" {
		found++
	}
	if parsed.PolicyDuration != "" {
		found++
	}
	parsed.Confidence = float64(found) / 5.0

	return parsed
}

func extractAge(text string) int {
	for _, re := range agePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			age, err := strconv.Atoi(m[1])
			if err == nil && age >= 0 && age <= 120 {
				return age
			}
		}
	}
	return 0
}

func extractGender(text string) Gender {
	m := genderPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	switch strings.ToLower(m[1]) {
	case "male", "m", "man":
		return GenderMale
	case "female", "f", "woman":
		return GenderFemale
	}
	return ""
}

func extractAmount(text string) string {
	for _, re := range amountPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

func extractDuration(text string) string {
	for _, re := range durationPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1] + " " + strings.ToLower(m[2]) + "s"
		}
	}
	return ""
}

func extractProcedure(text string) string {
	lower := strings.ToLower(text)
	for _, procedure := range knownProcedures {
		if strings.Contains(lower, procedure) {
			return procedure
		}
	}
	for _, keyword := range medicalKeywords {
		if !strings.Contains(lower, keyword) {
			continue
		}
		re := regexp.MustCompile(`(?i)\b\w+\s+` + keyword + `\b|\b` + keyword + `\s+\w+\b`)
		if m := re.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

func extractLocation(text string) string {
	lower := strings.ToLower(text)
	for _, city := range knownCities {
		if strings.Contains(lower, city) {
			return strings.ToUpper(city[:1]) + city[1:]
		}
	}
	return ""
}

const parserMaxAttempts = 2

// parseWithLLM asks the chat model for a JSON rendition of the query fields.
// A malformed response triggers one repair attempt before giving up.
func (p *QueryParser) parseWithLLM(query string) (ParsedQuery, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(`Extract structured information from the following insurance/medical query.
Return a JSON object with these fields (use null for missing information):

- age: integer
- gender: string ("Male", "Female", "Other" or "Unknown")
- procedure: string (medical procedure or treatment)
- location: string (city or location)
- policy_duration: string (e.g. "3 months", "1 year")
- medical_condition: string
- amount_claimed: string
- date_of_service: string

Query: "%s"

Respond only with valid JSON:`, query)

	var lastErr error
	raw := ""
	for attempt := 1; attempt <= parserMaxAttempts; attempt++ {
		content := prompt
		if attempt > 1 {
			content = buildRepairPrompt(raw)
		}

		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: p.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You are an expert at extracting structured information from insurance and medical queries. Always respond with valid JSON.",
				},
				{Role: openai.ChatMessageRoleUser, Content: content},
			},
			Temperature: 0.1,
			MaxTokens:   500,
		})
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt) * 300 * time.Millisecond)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("empty completion")
			continue
		}
		raw = resp.Choices[0].Message.Content

		jsonStr, err := extractJSON(raw)
		if err != nil {
			lastErr = err
			continue
		}

		parsed, err := decodeParsedQuery(query, jsonStr)
		if err != nil {
			lastErr = err
			continue
		}
		return parsed, nil
	}

	return ParsedQuery{}, fmt.Errorf("llm parse failed after %d attempts: %w", parserMaxAttempts, lastErr)
}

func decodeParsedQuery(query, jsonStr string) (ParsedQuery, error) {
	var fields struct {
		Age              *int    `json:"age"`
		Gender           *string `json:"gender"`
		Procedure        *string `json:"procedure"`
		Location         *string `json:"location"`
		PolicyDuration   *string `json:"policy_duration"`
		MedicalCondition *string `json:"medical_condition"`
		AmountClaimed    *string `json:"amount_claimed"`
		DateOfService    *string `json:"date_of_service"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
		return ParsedQuery{}, err
	}

	parsed := ParsedQuery{OriginalQuery: query}
	found := 0
	if fields.Age != nil {
		parsed.Age = *fields.Age
		found++
	}
	if fields.Gender != nil {
		switch Gender(*fields.Gender) {
		case GenderMale, GenderFemale, GenderOther, GenderUnknown:
			parsed.Gender = Gender(*fields.Gender)
		default:
			parsed.Gender = GenderUnknown
		}
		found++
	}
	setStr := func(dst *string, src *string) {
		if src != nil && *src != "" {
			*dst = *src
			found++
		}
	}
	setStr(&parsed.Procedure, fields.Procedure)
	setStr(&parsed.Location, fields.Location)
	setStr(&parsed.PolicyDuration, fields.PolicyDuration)
	setStr(&parsed.MedicalCondition, fields.MedicalCondition)
	setStr(&parsed.AmountClaimed, fields.AmountClaimed)
	setStr(&parsed.DateOfService, fields.DateOfService)

	parsed.Confidence = float64(found) / 8.0
	if parsed.Confidence > 1.0 {
		parsed.Confidence = 1.0
	}
	return parsed, nil
}

// extractJSON cuts the outermost JSON object out of a model response that may
// carry stray prose around it.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return s, errors.New("no valid json found")
	}
	return s[start : end+1], nil
}

func buildRepairPrompt(badOutput string) string {
	return fmt.Sprintf(`
You previously returned an invalid JSON.

Your task is to FIX the JSON.

RULES:
- Output ONLY valid JSON
- Do NOT add or remove information
- Do NOT add explanations
- Do NOT include markdown

INVALID OUTPUT:
<<<
%s
>>>

Return the corrected JSON only.
`, badOutput)
}
