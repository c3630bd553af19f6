package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/clean-dependency-project/appfactory/internal/assignment"
	"github.com/clean-dependency-project/appfactory/internal/manifest"
	"github.com/clean-dependency-project/appfactory/internal/resolver"
)

// Placeholder values used when a manifest is checked without a resolved
// version or a built package.
const (
	sampleVersion     = "1.0.0"
	sampleSetupFile   = "setup.exe"
	sampleProductCode = "{00000000-0000-0000-0000-000000000000}"
)

// ValidateApp checks offline that the manifest of app loads, that its rules
// and program settings translate into a catalog request and that its
// assignments translate. assignments may be nil.
func ValidateApp(ctx context.Context, appsDir string, app manifest.AppDescriptor, assignments *assignment.Resolver) error {
	if assignments == nil {
		assignments = assignment.NewResolver(nil)
	}
	display, err := app.DisplayName(sampleVersion)
	if err != nil {
		return err
	}

	var rec PublishRecord
	rec.AppDescriptor = app
	rec.Resolved = resolver.ResolvedVersion{Version: sampleVersion, NormalizedVersion: sampleVersion}
	rec.DisplayName = display
	rec.SetupFile = sampleSetupFile
	vars := rec.vars()
	vars[manifest.PlaceholderProductCode] = sampleProductCode

	m, err := manifest.LoadManifest(appDir(appsDir, app.AppFolderName), vars)
	if err != nil {
		return err
	}
	var errs error
	if _, err := BuildWin32App(rec, m); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := assignments.TranslateAssignments(ctx, m.Assignment); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return fmt.Errorf("%s: %w", app.IntuneAppName, errs)
	}
	return nil
}
