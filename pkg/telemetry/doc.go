// Package telemetry wires structured logging (zerolog), tracing
// (OpenTelemetry) and metrics (Prometheus) for installer runs.
//
// # Usage
//
// Build one Telemetry per invocation and attach it to the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// The logger is also installed as the context's zerolog logger, so code
// that only knows zerolog can log through zerolog.Ctx(ctx).
//
// # Runs
//
// Each install or revert is wrapped in a Run, which owns the run span and
// the run counters. Its Observer plugs into plan.InstallPlan to get a span
// and a metric sample per action:
//
//	ctx, run := tel.StartRun(ctx, runID, p.ID, "execute")
//	err := p.Install(ctx, target, plan.WithObserver(run.Observer()))
//	run.End(err)
//
// # Metrics
//
// The installer is a one-shot process, so metrics are not served over HTTP.
// When MetricsConfig.TextfilePath is set, Shutdown writes them in the node
// exporter textfile format:
//
//	nix_installer_runs_completed_total{operation="execute",status="succeeded"} 1
//	nix_installer_actions_total{kind="fetch_nix",operation="execute",status="failed"} 1
//	nix_installer_action_duration_seconds_bucket{kind="fetch_nix",operation="execute",le="5"} 1
package telemetry
