// Package admission registers the steps that drive uploads through the
// admission check.
package admission

import (
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// TestContext is what the admission steps need from the scenario state.
type TestContext interface {
	SetLimits(capacity int64, perSecond float64, dailyBytes int64) error
	SetClock(t time.Time)
	Advance(d time.Duration)
	StopCounterStore()
	ConvertedFiles() int
	BeginBatch()
	Upload(clientIP string, sizes []int64) error
	ConvertURLs(clientIP string, urls []string) error
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	s := &admissionSteps{tc: tc}
	ctx.Step(`^the admission limits are (\d+) files per second and (\d+) bytes per day$`, s.limitsAre)
	ctx.Step(`^the clock is at "([^"]*)"$`, s.clockIsAt)
	ctx.Step(`^(\d+) milliseconds? pass(?:es)?$`, s.millisecondsPass)
	ctx.Step(`^the counter store is down$`, s.counterStoreDown)
	ctx.Step(`^client "([^"]*)" uploads (\d+) files? of (\d+) bytes one at a time$`, s.uploadsOneAtATime)
	ctx.Step(`^client "([^"]*)" uploads (\d+) files? of (\d+) bytes in one request$`, s.uploadsInOneRequest)
	ctx.Step(`^client "([^"]*)" converts the URL "([^"]*)"$`, s.convertsURL)
	ctx.Step(`^the provider should hold (\d+) converted files?$`, s.providerHolds)
}

type admissionSteps struct {
	tc TestContext
}

func (s *admissionSteps) limitsAre(perSecond int, dailyBytes int64) error {
	return s.tc.SetLimits(int64(perSecond), float64(perSecond), dailyBytes)
}

func (s *admissionSteps) clockIsAt(raw string) error {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("parse clock: %w", err)
	}
	s.tc.SetClock(t)
	return nil
}

func (s *admissionSteps) millisecondsPass(ms int) error {
	s.tc.Advance(time.Duration(ms) * time.Millisecond)
	return nil
}

func (s *admissionSteps) counterStoreDown() error {
	s.tc.StopCounterStore()
	return nil
}

func (s *admissionSteps) uploadsOneAtATime(client string, n int, size int64) error {
	s.tc.BeginBatch()
	for range n {
		if err := s.tc.Upload(client, []int64{size}); err != nil {
			return err
		}
	}
	return nil
}

func (s *admissionSteps) uploadsInOneRequest(client string, n int, size int64) error {
	s.tc.BeginBatch()
	sizes := make([]int64, n)
	for i := range sizes {
		sizes[i] = size
	}
	return s.tc.Upload(client, sizes)
}

func (s *admissionSteps) convertsURL(client, raw string) error {
	s.tc.BeginBatch()
	return s.tc.ConvertURLs(client, strings.Fields(raw))
}

func (s *admissionSteps) providerHolds(n int) error {
	if got := s.tc.ConvertedFiles(); got != n {
		return fmt.Errorf("expected %d converted files, got %d", n, got)
	}
	return nil
}
