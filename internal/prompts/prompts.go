// Package prompts loads the per-stage system prompts used by the coaching
// conversations. Prompts live in a YAML file so instructors can tune them
// without rebuilding; built-in defaults apply when no file is configured.
package prompts

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Set holds the system prompts for the free conversation and the three
// analysis stages.
type Set struct {
	General    string `yaml:"general"`
	StageOne   string `yaml:"stage1"`
	StageTwo   string `yaml:"stage2"`
	StageThree string `yaml:"stage3"`
}

const (
	defaultGeneral = "You are a moot court coaching assistant for law students. " +
		"Answer questions about case analysis, legal argumentation, and moot court procedure. " +
		"Be precise and cite the relevant legal concepts by name."

	defaultStageOne = "You are coaching a law student through Stage 1 of a moot court case analysis: " +
		"identifying the legal issues raised by the case. The student's case text is provided. " +
		"Guide the student with questions rather than giving the full answer outright."

	defaultStageTwo = "You are coaching a law student through Stage 2 of a moot court case analysis: " +
		"identifying the aspects of legality and proportionality relevant to the issues found in Stage 1. " +
		"The case text and the student's issue list are provided."

	defaultStageThree = "You are coaching a law student through Stage 3 of a moot court case analysis: " +
		"evaluating whether the authorities' decisions comply with the requirements of legality and " +
		"proportionality. The case text, the issue list, and the student's aspects are provided. " +
		"Review the student's arguments critically."
)

// Default returns the built-in prompt set.
func Default() *Set {
	return &Set{
		General:    defaultGeneral,
		StageOne:   defaultStageOne,
		StageTwo:   defaultStageTwo,
		StageThree: defaultStageThree,
	}
}

// Load reads a prompt set from a YAML file. Missing keys fall back to the
// built-in defaults; an empty path returns the defaults directly.
func Load(path string, logger *slog.Logger) (*Set, error) {
	set := Default()
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("prompt file not found, using built-in prompts", "path", path)
			return set, nil
		}
		return nil, fmt.Errorf("read prompt file: %w", err)
	}

	var file Set
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse prompt file %s: %w", path, err)
	}

	if file.General != "" {
		set.General = file.General
	}
	if file.StageOne != "" {
		set.StageOne = file.StageOne
	}
	if file.StageTwo != "" {
		set.StageTwo = file.StageTwo
	}
	if file.StageThree != "" {
		set.StageThree = file.StageThree
	}

	logger.Info("loaded prompt file", "path", path)
	return set, nil
}
