// Package telemetry provides observability for install runs.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process event publisher,
// and plugs each of them into the engine through its extension points:
//
//   - Logger.Zerolog feeds engine.WithLogger
//   - Metrics implements engine.Observer
//   - Tracer.Trace feeds engine.WithTracer
//   - EventNotifier implements engine.Notifier
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, run := tel.StartRun(ctx, runID, pkg.Product)
//	eng := engine.New(registry, reader, conditions, run.EngineOptions(journal)...)
//	err = eng.NewSession(pkg).Install(ctx, false)
//	outcome := run.End(err)
//
// # Metrics
//
// Metrics live on a private registry and are served by StartMetricsServer
// when MetricsConfig.ListenAddress is set:
//
//   - froyo_install_actions_dispatched_total{action,code}
//   - froyo_install_action_duration_seconds{action}
//   - froyo_install_actions_deferred_total{script}
//   - froyo_install_actions_skipped_total{table}
//   - froyo_install_actions_not_found_total{action}
//   - froyo_install_feature_states_total{state}
//   - froyo_install_component_states_total{state}
//   - froyo_install_resolutions_total{mode}
//   - froyo_install_outcomes_total{outcome}
//   - froyo_install_script_depth{script}
//
// # Tracing
//
// Supported exporters are "otlp" (gRPC, needs TracingConfig.Endpoint) and
// "stdout". A disabled tracer hands the engine a no-op tracer.
//
// # Events
//
// Events are delivered to subscribers in publish order. Shutdown drains any
// buffered events before returning.
package telemetry
