package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voicecampaign-platform/internal/config"

	"github.com/go-resty/resty/v2"
)

// VapiDialer places outbound calls through the Vapi REST API.
type VapiDialer struct {
	http          *resty.Client
	phoneNumberID string
}

func NewVapiDialer(cfg config.ProviderConfig) *VapiDialer {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &VapiDialer{
		http:          client,
		phoneNumberID: cfg.PhoneNumberID,
	}
}

func (d *VapiDialer) Name() string { return "vapi" }

func (d *VapiDialer) HealthCheck(ctx context.Context) error {
	resp, err := d.http.R().SetContext(ctx).Get("/assistant?limit=1")
	if err != nil {
		return fmt.Errorf("vapi health check: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("vapi health check: status %d", resp.StatusCode())
	}
	return nil
}

type vapiCustomer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type vapiModelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type vapiModelOverride struct {
	Provider string             `json:"provider,omitempty"`
	Model    string             `json:"model,omitempty"`
	Messages []vapiModelMessage `json:"messages,omitempty"`
}

type vapiAssistantOverrides struct {
	Model *vapiModelOverride `json:"model,omitempty"`
}

type vapiCallRequest struct {
	AssistantID        string                  `json:"assistantId"`
	PhoneNumberID      string                  `json:"phoneNumberId"`
	Customer           vapiCustomer            `json:"customer"`
	AssistantOverrides *vapiAssistantOverrides `json:"assistantOverrides,omitempty"`
}

type vapiCallResponse struct {
	ID string `json:"id"`
}

type vapiErrorResponse struct {
	// Vapi returns message as either a string or an array of strings.
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
}

func (d *VapiDialer) StartCall(ctx context.Context, req StartCallRequest) (StartCallResult, error) {
	if req.AssistantID == "" || req.CustomerNumber == "" {
		return StartCallResult{}, &CallError{StatusCode: 0, Message: "assistant id and customer number are required"}
	}

	phoneNumberID := req.PhoneNumberID
	if phoneNumberID == "" {
		phoneNumberID = d.phoneNumberID
	}

	body := vapiCallRequest{
		AssistantID:   req.AssistantID,
		PhoneNumberID: phoneNumberID,
		Customer: vapiCustomer{
			Number: req.CustomerNumber,
			Name:   req.CustomerName,
		},
	}
	if req.SystemPrompt != "" || req.Model != "" {
		override := &vapiModelOverride{
			Provider: req.ModelProvider,
			Model:    req.Model,
		}
		if req.SystemPrompt != "" {
			override.Messages = []vapiModelMessage{{Role: "system", Content: req.SystemPrompt}}
		}
		body.AssistantOverrides = &vapiAssistantOverrides{Model: override}
	}

	var out vapiCallResponse
	resp, err := d.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/call")
	if err != nil {
		return StartCallResult{}, fmt.Errorf("vapi start call: %w", err)
	}

	if resp.IsError() {
		return StartCallResult{}, classifyVapiError(resp.StatusCode(), resp.Body())
	}
	if out.ID == "" {
		return StartCallResult{}, &CallError{StatusCode: resp.StatusCode(), Message: "response missing call id"}
	}

	return StartCallResult{ProviderCallID: out.ID}, nil
}

// classifyVapiError maps an error response to one of the dispatch error
// classes. The concurrency ceiling is signalled by message text, not by a
// dedicated status code, so the message check runs first.
func classifyVapiError(status int, body []byte) error {
	msg := vapiErrorMessage(body)

	if strings.Contains(strings.ToLower(msg), "concurrency") {
		return fmt.Errorf("%w: %s", ErrConcurrencyLimit, msg)
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	}
	if msg == "" {
		msg = "unexpected provider error"
	}
	return &CallError{StatusCode: status, Message: msg}
}

func vapiErrorMessage(body []byte) string {
	var er vapiErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return strings.TrimSpace(string(body))
	}

	if len(er.Message) > 0 {
		var s string
		if json.Unmarshal(er.Message, &s) == nil {
			return s
		}
		var list []string
		if json.Unmarshal(er.Message, &list) == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
	}
	return er.Error
}
