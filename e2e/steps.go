package e2e

import (
	"github.com/cucumber/godog"

	"imgconvert/e2e/steps/admission"
	"imgconvert/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	admission.RegisterSteps(ctx, tc)
}
