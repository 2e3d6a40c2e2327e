// Package common holds response assertions shared by every feature.
package common

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cucumber/godog"
)

// Response is one recorded HTTP exchange.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// TestContext is what the common steps need from the scenario state.
type TestContext interface {
	Last() (Response, error)
	Batch() []Response
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	s := &commonSteps{tc: tc}
	ctx.Step(`^the response status should be (\d+)$`, s.statusShouldBe)
	ctx.Step(`^every response status should be (\d+)$`, s.everyStatusShouldBe)
	ctx.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, s.headerShouldBe)
	ctx.Step(`^the error code should be "([^"]*)"$`, s.errorCodeShouldBe)
	ctx.Step(`^the error message should be "([^"]*)"$`, s.errorMessageShouldBe)
	ctx.Step(`^the error field "([^"]*)" should be (\d+)$`, s.errorFieldShouldBe)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) statusShouldBe(expected int) error {
	resp, err := s.tc.Last()
	if err != nil {
		return err
	}
	if resp.Status != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, resp.Status, resp.Body)
	}
	return nil
}

func (s *commonSteps) everyStatusShouldBe(expected int) error {
	batch := s.tc.Batch()
	if len(batch) == 0 {
		return fmt.Errorf("no request has been sent")
	}
	for i, resp := range batch {
		if resp.Status != expected {
			return fmt.Errorf("request %d: expected status %d, got %d: %s", i+1, expected, resp.Status, resp.Body)
		}
	}
	return nil
}

func (s *commonSteps) headerShouldBe(name, expected string) error {
	resp, err := s.tc.Last()
	if err != nil {
		return err
	}
	if got := resp.Header.Get(name); got != expected {
		return fmt.Errorf("expected header %s=%q, got %q", name, expected, got)
	}
	return nil
}

func (s *commonSteps) errorBody() (map[string]any, error) {
	resp, err := s.tc.Last()
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Error map[string]any `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("decode error envelope: %w", err)
	}
	if envelope.Error == nil {
		return nil, fmt.Errorf("response has no error object: %s", resp.Body)
	}
	return envelope.Error, nil
}

func (s *commonSteps) errorCodeShouldBe(expected string) error {
	body, err := s.errorBody()
	if err != nil {
		return err
	}
	if body["code"] != expected {
		return fmt.Errorf("expected error code %q, got %v", expected, body["code"])
	}
	return nil
}

func (s *commonSteps) errorMessageShouldBe(expected string) error {
	body, err := s.errorBody()
	if err != nil {
		return err
	}
	if body["message"] != expected {
		return fmt.Errorf("expected error message %q, got %v", expected, body["message"])
	}
	return nil
}

func (s *commonSteps) errorFieldShouldBe(field string, expected int64) error {
	body, err := s.errorBody()
	if err != nil {
		return err
	}
	got, ok := body[field].(float64)
	if !ok {
		return fmt.Errorf("error field %q missing or not a number: %v", field, body[field])
	}
	if int64(got) != expected {
		return fmt.Errorf("expected %s=%d, got %s", field, expected, strconv.FormatFloat(got, 'f', -1, 64))
	}
	return nil
}
