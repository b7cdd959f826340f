package command

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/pavelanni/qbank/internal/events"
	"github.com/pavelanni/qbank/internal/model"
)

// errNoEngine is returned by worker commands when no worker is configured.
var errNoEngine = errors.New("no worker configured")

func (d *Dispatcher) apiKey() (string, error) {
	v, _, err := d.store.GetSetting(model.SettingGeminiAPIKey)
	return v, err
}

func (d *Dispatcher) getAnswerKey(_ context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[testIDArgs](raw)
	if err != nil {
		return nil, err
	}
	key, err := d.keys.Get(a.TestID)
	if err != nil || key == "" {
		return nil, err
	}
	return key, nil
}

func (d *Dispatcher) generateAnswerKey(ctx context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[testIDArgs](raw)
	if err != nil {
		return nil, err
	}
	return d.keys.Generate(ctx, a.TestID)
}

type pathArgs struct {
	Path string `json:"path"`
}

// analyzePDF starts document analysis and returns immediately. Progress is
// published on the event hub under events.AnalysisTopic.
func (d *Dispatcher) analyzePDF(ctx context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[pathArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, badRequest("path is required")
	}
	if d.engine == nil {
		return nil, errNoEngine
	}
	key, err := d.apiKey()
	if err != nil {
		return nil, err
	}

	d.background.Add(1)
	go func() {
		defer d.background.Done()
		log := slog.With("path", a.Path)
		log.Info("document analysis started")
		err := d.engine.Analyze(context.WithoutCancel(ctx), a.Path, key, d.publish)
		if err != nil {
			log.Error("document analysis failed", "error", err)
			d.publish(model.AnalysisEvent{Type: model.EventError, Message: err.Error()})
			return
		}
		log.Info("document analysis finished")
	}()
	return nil, nil
}

func (d *Dispatcher) publish(ev model.AnalysisEvent) {
	if d.metrics != nil {
		d.metrics.AnalysisEvents.WithLabelValues(string(ev.Type)).Inc()
	}
	d.hub.Publish(events.AnalysisTopic, ev)
}

func (d *Dispatcher) analyzeTemplate(ctx context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[pathArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, badRequest("path is required")
	}
	if d.engine == nil {
		return nil, errNoEngine
	}
	key, err := d.apiKey()
	if err != nil {
		return nil, err
	}
	_, out, err := d.engine.AnalyzeTemplate(ctx, a.Path, key)
	if err != nil && out == "" {
		return nil, err
	}
	if err != nil {
		// The caller receives the raw worker output and decodes it itself.
		slog.Warn("template analysis output is not a template result", "path", a.Path, "error", err)
	}
	return out, nil
}

type exportArgs struct {
	ImagePaths   []string `json:"imagePaths"`
	OutputPath   string   `json:"outputPath"`
	TemplatePath *string  `json:"templatePath"`
	Margins      *string  `json:"margins"`
	TemplateID   *int64   `json:"templateId"`
}

func (d *Dispatcher) exportTestPDF(ctx context.Context, raw json.RawMessage) (any, error) {
	a, err := decode[exportArgs](raw)
	if err != nil {
		return nil, err
	}
	if a.OutputPath == "" {
		return nil, badRequest("outputPath is required")
	}
	if len(a.ImagePaths) == 0 {
		return nil, badRequest("imagePaths is empty")
	}
	if d.engine == nil {
		return nil, errNoEngine
	}
	req := model.ExportRequest{
		ImagePaths:   a.ImagePaths,
		OutputPath:   a.OutputPath,
		TemplatePath: deref(a.TemplatePath),
		MarginsJSON:  deref(a.Margins),
	}
	if a.TemplateID != nil {
		tpl, err := d.store.GetTemplate(*a.TemplateID)
		if err != nil {
			return nil, err
		}
		if req.TemplatePath == "" {
			req.TemplatePath = tpl.Path
		}
		if req.MarginsJSON == "" {
			req.MarginsJSON = tpl.MarginsJSON
		}
	}
	return d.engine.Export(ctx, req)
}
