// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/homeops/pkg/ux"
	"github.com/AleutianAI/homeops/services/orchestrator/datatypes"
)

type troubleshootOptions struct {
	device      string
	symptom     string
	urgency     string
	context     string
	answers     []string
	noInput     bool
	interactive func() bool
	prompt      func([]datatypes.FollowupQuestion) (map[string]string, error)
}

func newTroubleshootCmd(opts *rootOptions) *cobra.Command {
	tOpts := &troubleshootOptions{
		interactive: ux.IsInteractive,
		prompt:      promptAnswers,
	}

	cmd := &cobra.Command{
		Use:   "troubleshoot",
		Short: "Run a guided troubleshooting session for a device",
		Long: `troubleshoot starts a session, collects answers to the follow-up
questions and prints a step-by-step diagnosis.

On a terminal, unanswered questions are asked interactively. Elsewhere pass
answers with --answer q1=yes --answer q2="no glow".`,
		Example: `  homeops troubleshoot --device furnace --symptom "clicking but no heat"
  homeops troubleshoot -d water_heater -s "no hot water" --answer q1=yes --no-input`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTroubleshoot(cmd, opts, tOpts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&tOpts.device, "device", "d", "", "device type, e.g. furnace or water_heater")
	flags.StringVarP(&tOpts.symptom, "symptom", "s", "", "what you are observing")
	flags.StringVarP(&tOpts.urgency, "urgency", "u", "", "low, medium or high (default medium)")
	flags.StringVar(&tOpts.context, "context", "", "anything else that might help")
	flags.StringArrayVarP(&tOpts.answers, "answer", "a", nil, "answer as id=value; repeatable")
	flags.BoolVar(&tOpts.noInput, "no-input", false, "never prompt; unanswered questions are skipped")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("symptom")
	return cmd
}

func runTroubleshoot(cmd *cobra.Command, opts *rootOptions, tOpts *troubleshootOptions) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	given, err := parseAnswers(tOpts.answers)
	if err != nil {
		return err
	}

	client := opts.client()
	start, err := client.Start(ctx, &datatypes.TroubleshootStartRequest{
		DeviceType:        tOpts.device,
		Symptom:           tOpts.symptom,
		Urgency:           tOpts.urgency,
		AdditionalContext: tOpts.context,
	})
	if err != nil {
		ux.Error(cmd.ErrOrStderr(), err.Error())
		return err
	}

	ux.Intake(out, start)
	if start.IsSafetyStop {
		return nil
	}

	pending := unanswered(start.FollowupQuestions, given)
	if len(pending) > 0 && !tOpts.noInput && tOpts.interactive() {
		prompted, err := tOpts.prompt(pending)
		if err != nil {
			return fmt.Errorf("failed to collect answers: %w", err)
		}
		for id, v := range prompted {
			given[id] = v
		}
	} else {
		for _, q := range pending {
			ux.Warning(out, fmt.Sprintf("Skipping %s: %s", q.ID, q.Question))
		}
	}

	diag, err := client.Diagnose(ctx, &datatypes.TroubleshootDiagnoseRequest{
		SessionID: start.SessionID,
		Answers:   orderedAnswers(start.FollowupQuestions, given),
	})
	if err != nil {
		ux.Error(cmd.ErrOrStderr(), err.Error())
		return err
	}
	fmt.Fprintln(out)
	ux.Diagnosis(out, diag)
	return nil
}

// parseAnswers turns "id=value" flags into a map. Later duplicates win.
func parseAnswers(raw []string) (map[string]string, error) {
	answers := make(map[string]string, len(raw))
	for _, a := range raw {
		id, value, ok := strings.Cut(a, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --answer %q: want id=value", a)
		}
		answers[id] = strings.TrimSpace(value)
	}
	return answers, nil
}

func unanswered(questions []datatypes.FollowupQuestion, given map[string]string) []datatypes.FollowupQuestion {
	var pending []datatypes.FollowupQuestion
	for _, q := range questions {
		if _, ok := given[q.ID]; !ok {
			pending = append(pending, q)
		}
	}
	return pending
}

// orderedAnswers lists answers in question order, followed by any answers
// for ids the server did not ask about.
func orderedAnswers(questions []datatypes.FollowupQuestion, given map[string]string) []datatypes.FollowupAnswer {
	answers := make([]datatypes.FollowupAnswer, 0, len(given))
	asked := make(map[string]bool, len(questions))
	for _, q := range questions {
		asked[q.ID] = true
		if v, ok := given[q.ID]; ok {
			answers = append(answers, datatypes.FollowupAnswer{QuestionID: q.ID, Answer: v})
		}
	}
	var extra []string
	for id := range given {
		if !asked[id] {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	for _, id := range extra {
		answers = append(answers, datatypes.FollowupAnswer{QuestionID: id, Answer: given[id]})
	}
	return answers
}

// promptAnswers asks the pending questions in one huh form.
func promptAnswers(questions []datatypes.FollowupQuestion) (map[string]string, error) {
	texts := make([]string, len(questions))
	yes := make([]bool, len(questions))
	fields := make([]huh.Field, 0, len(questions))

	for i, q := range questions {
		switch {
		case q.QuestionType == datatypes.QuestionYesNo:
			fields = append(fields, huh.NewConfirm().
				Title(q.Question).
				Description(q.Why).
				Affirmative("Yes").
				Negative("No").
				Value(&yes[i]))
		case q.QuestionType == datatypes.QuestionMultipleChoice && len(q.Options) > 0:
			fields = append(fields, huh.NewSelect[string]().
				Title(q.Question).
				Description(q.Why).
				Options(huh.NewOptions(q.Options...)...).
				Value(&texts[i]))
		default:
			fields = append(fields, huh.NewInput().
				Title(q.Question).
				Description(q.Why).
				Value(&texts[i]))
		}
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return nil, err
	}

	answers := make(map[string]string, len(questions))
	for i, q := range questions {
		if q.QuestionType == datatypes.QuestionYesNo {
			answers[q.ID] = yesNo(yes[i])
			continue
		}
		answers[q.ID] = strings.TrimSpace(texts[i])
	}
	return answers, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
