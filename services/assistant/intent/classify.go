// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intent classifies incoming assistant messages before any
// engine is consulted. Greetings, smalltalk and off-topic requests get
// canned replies without spending engine capacity; booking questions
// missing required parameters short-circuit into a clarification prompt.
package intent

import (
	"fmt"
	"strings"
)

// Intent values in priority order.
const (
	IntentGreeting           = "greeting"
	IntentSmalltalk          = "smalltalk"
	IntentOffTopic           = "off_topic"
	IntentNeedsParams        = "needs_params"
	IntentGenerationRequired = "generation_required"
)

// Classification is the routing decision for one message.
type Classification struct {
	// Intent is one of the Intent* constants.
	Intent string

	// Confidence is a coarse score in [0,1]; table hits are 1.0, the
	// generation fallback is 0.5.
	Confidence float64

	// Language is the detected reply language ("ka" or "en").
	Language string

	// MissingParams lists required booking parameters absent from the
	// message; set only for needs_params.
	MissingParams []string

	// CannedReply is the full response text for intents answered
	// without an engine. Empty for generation_required.
	CannedReply string
}

// greetings answered verbatim, keyed by lowercased trigger.
var greetingTriggers = map[string]string{
	"გამარჯობა":  "ka",
	"gamarjoba":  "ka",
	"სალამი":     "ka",
	"hello":      "en",
	"hi":         "en",
	"hey":        "en",
	"good day":   "en",
	"გაუმარჯოს":  "ka",
	"დილა მშვიდობისა": "ka",
}

var greetingReplies = map[string]string{
	"ka": "გამარჯობა! მე ვარ ბახმაროს დაჯავშნის ასისტენტი. რით შემიძლია დაგეხმაროთ?",
	"en": "Hello! I am the Bakhmaro booking assistant. How can I help you today?",
}

var smalltalkTriggers = map[string]string{
	"როგორ ხარ":    "ka",
	"რას აკეთებ":   "ka",
	"how are you":  "en",
	"what's up":    "en",
	"whats up":     "en",
	"thank you":    "en",
	"thanks":       "en",
	"მადლობა":      "ka",
}

var smalltalkReplies = map[string]string{
	"ka": "კარგად ვარ, გმადლობთ! მზად ვარ დაგეხმაროთ კოტეჯის დაჯავშნაში.",
	"en": "I'm doing well, thank you! I'm ready to help you with a cottage booking.",
}

// offTopicKeywords mark requests clearly outside the booking domain.
var offTopicKeywords = []string{
	"weather forecast",
	"bitcoin",
	"crypto",
	"stock price",
	"write me a poem",
	"ამინდის პროგნოზი",
	"ბიტკოინი",
}

var offTopicReplies = map[string]string{
	"ka": "ბოდიში, ამ თემაზე ვერ დაგეხმარებით. მე მხოლოდ ბახმაროში დაჯავშნის საკითხებში ვეხმარები.",
	"en": "Sorry, I can't help with that topic. I only assist with Bakhmaro booking questions.",
}

// bookingKeywords mark a message as a booking request that needs
// concrete parameters.
var bookingKeywords = []string{
	"book", "booking", "reserve", "reservation", "cottage", "room",
	"დაჯავშნა", "დავჯავშნო", "ჯავშანი", "კოტეჯი", "ოთახი",
}

var paramHints = map[string][]string{
	"dates":  {"january", "february", "march", "april", "may", "june", "july", "august", "september", "october", "november", "december", "იანვარი", "თებერვალი", "მარტი", "აპრილი", "მაისი", "ივნისი", "ივლისი", "აგვისტო", "სექტემბერი", "ოქტომბერი", "ნოემბერი", "დეკემბერი", "tomorrow", "ხვალ", "weekend"},
	"guests": {"guest", "people", "person", "adult", "child", "სტუმარი", "ადამიანი", "ბავშვი"},
}

var needsParamsReplies = map[string]string{
	"ka": "სიამოვნებით დაგეხმარებით დაჯავშნაში! გთხოვთ მიუთითოთ: %s.",
	"en": "Happy to help with your booking! Please tell me: %s.",
}

var paramLabels = map[string]map[string]string{
	"ka": {"dates": "თარიღები", "guests": "სტუმრების რაოდენობა"},
	"en": {"dates": "the dates", "guests": "the number of guests"},
}

// Classify routes a message to an intent.
//
// # Inputs
//
//   - message: Raw user text.
//   - languageHint: Optional requested reply language; detected from the
//     text when empty.
//
// # Outputs
//
//   - Classification: Routing decision; CannedReply is populated for
//     every intent except generation_required.
func Classify(message, languageHint string) Classification {
	trimmed := strings.TrimSpace(message)
	lower := strings.ToLower(trimmed)
	lang := detectLanguage(trimmed, languageHint)

	if lang2, ok := matchTrigger(lower, greetingTriggers); ok {
		if languageHint == "" {
			lang = lang2
		}
		return Classification{
			Intent:      IntentGreeting,
			Confidence:  1.0,
			Language:    lang,
			CannedReply: greetingReplies[lang],
		}
	}

	if lang2, ok := matchTrigger(lower, smalltalkTriggers); ok {
		if languageHint == "" {
			lang = lang2
		}
		return Classification{
			Intent:      IntentSmalltalk,
			Confidence:  1.0,
			Language:    lang,
			CannedReply: smalltalkReplies[lang],
		}
	}

	for _, kw := range offTopicKeywords {
		if strings.Contains(lower, kw) {
			return Classification{
				Intent:      IntentOffTopic,
				Confidence:  1.0,
				Language:    lang,
				CannedReply: offTopicReplies[lang],
			}
		}
	}

	if isBookingRequest(lower) {
		if missing := missingBookingParams(lower); len(missing) > 0 {
			return Classification{
				Intent:        IntentNeedsParams,
				Confidence:    1.0,
				Language:      lang,
				MissingParams: missing,
				CannedReply:   clarificationReply(lang, missing),
			}
		}
	}

	return Classification{
		Intent:     IntentGenerationRequired,
		Confidence: 0.5,
		Language:   lang,
	}
}

// matchTrigger reports whether the message is exactly a trigger or a
// trigger followed by light punctuation.
func matchTrigger(lower string, triggers map[string]string) (string, bool) {
	cleaned := strings.Trim(lower, " \t!?.,")
	if lang, ok := triggers[cleaned]; ok {
		return lang, true
	}
	return "", false
}

func isBookingRequest(lower string) bool {
	for _, kw := range bookingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// missingBookingParams returns the required parameters with no hint in
// the message, in stable order.
func missingBookingParams(lower string) []string {
	var missing []string
	for _, param := range []string{"dates", "guests"} {
		found := false
		for _, hint := range paramHints[param] {
			if strings.Contains(lower, hint) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, param)
		}
	}
	return missing
}

func clarificationReply(lang string, missing []string) string {
	labels := make([]string, 0, len(missing))
	for _, m := range missing {
		labels = append(labels, paramLabels[lang][m])
	}
	joiner := " and "
	if lang == "ka" {
		joiner = " და "
	}
	return fmt.Sprintf(needsParamsReplies[lang], strings.Join(labels, joiner))
}

// detectLanguage prefers the explicit hint, then falls back to script
// detection: any Georgian rune marks the message as Georgian.
func detectLanguage(text, hint string) string {
	if hint == "ka" || hint == "en" {
		return hint
	}
	for _, r := range text {
		if r >= 0x10A0 && r <= 0x10FF {
			return "ka"
		}
	}
	return "en"
}
