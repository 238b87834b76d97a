package question

import "github.com/zhouzirui/z-speak/backend/internal/model/practice"

// Seed provides the default practice questions shipped with the service.
func Seed() []practice.Question {
	return []practice.Question{
		{
			ID:               "ielts-p1-hometown",
			Type:             practice.IELTSPart1,
			Category:         "hometown",
			Prompt:           "Let's talk about your hometown. What do you like most about it?",
			ExpectedDuration: 30,
			KeyPoints:        []string{"name the place", "one specific feature", "personal reason"},
		},
		{
			ID:               "ielts-p1-work-study",
			Type:             practice.IELTSPart1,
			Category:         "work and study",
			Prompt:           "Do you work or are you a student? Why did you choose that?",
			ExpectedDuration: 30,
			KeyPoints:        []string{"current role", "reason for choice"},
		},
		{
			ID:               "ielts-p2-memorable-trip",
			Type:             practice.IELTSPart2,
			Category:         "travel",
			Prompt:           "Describe a memorable trip you took. You should say where you went, who you went with, what you did there, and explain why it was memorable.",
			ExpectedDuration: 120,
			KeyPoints:        []string{"destination", "companions", "activities", "why memorable"},
			Tips:             []string{"Use the one minute of preparation to note one idea per bullet.", "Keep talking until the examiner stops you."},
		},
		{
			ID:               "ielts-p2-helpful-person",
			Type:             practice.IELTSPart2,
			Category:         "people",
			Prompt:           "Describe a person who has helped you. You should say who this person is, how you know them, how they helped you, and explain how you felt about it.",
			ExpectedDuration: 120,
			KeyPoints:        []string{"who the person is", "relationship", "the help given", "feelings"},
		},
		{
			ID:               "ielts-p3-technology-education",
			Type:             practice.IELTSPart3,
			Category:         "technology",
			Prompt:           "How has technology changed the way young people learn? Is this change positive?",
			ExpectedDuration: 60,
			KeyPoints:        []string{"concrete example", "advantage", "disadvantage", "own opinion"},
		},
		{
			ID:               "job-behavioral-conflict",
			Type:             practice.Behavioral,
			Category:         "teamwork",
			Prompt:           "Tell me about a time you disagreed with a colleague. How did you resolve it?",
			ExpectedDuration: 120,
			KeyPoints:        []string{"situation", "task", "action", "result"},
			Tips:             []string{"Structure the answer with the STAR method."},
		},
		{
			ID:               "job-behavioral-failure",
			Type:             practice.Behavioral,
			Category:         "growth",
			Prompt:           "Describe a project that did not go as planned. What did you learn?",
			ExpectedDuration: 120,
			KeyPoints:        []string{"context", "what went wrong", "your responsibility", "lesson learned"},
		},
		{
			ID:               "job-technical-system",
			Type:             practice.Technical,
			Category:         "system design",
			Prompt:           "Walk me through how you would design a URL shortening service.",
			ExpectedDuration: 180,
			KeyPoints:        []string{"requirements", "data model", "scaling", "trade-offs"},
		},
		{
			ID:               "job-situational-deadline",
			Type:             practice.Situational,
			Category:         "prioritization",
			Prompt:           "You have two urgent deadlines on the same day. What would you do?",
			ExpectedDuration: 90,
			KeyPoints:        []string{"assess impact", "communicate with stakeholders", "plan", "follow up"},
		},
	}
}
