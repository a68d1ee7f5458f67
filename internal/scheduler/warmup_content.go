package scheduler

import (
	"math/rand"
)

// Warmup conversations need to look like ordinary business email to the
// receiving providers. Subjects and bodies are paired independently so the
// corpus produces more distinct combinations than it has entries.

var warmupSubjects = []string{
	"Quick follow-up from last week",
	"Circling back on the proposal",
	"Notes from Thursday's call",
	"Updated timeline for Q4",
	"Re: scheduling next steps",
	"Thoughts on the draft?",
	"Checking in before the holidays",
	"Agenda for our next sync",
	"Budget numbers you asked about",
	"Intro to the new team member",
}

var warmupBodies = []string{
	"<p>Hi,</p><p>Just wanted to follow up on our last conversation. Let me know if you had a chance to review the materials I sent over.</p><p>Best,</p>",
	"<p>Hello,</p><p>Hope your week is going well. I've attached my notes from our discussion. Happy to walk through them whenever suits you.</p><p>Thanks,</p>",
	"<p>Hi there,</p><p>We're finalizing the schedule for next month and I wanted to confirm the dates work on your end before we lock things in.</p><p>Regards,</p>",
	"<p>Hey,</p><p>Quick one: the numbers you asked about are in. Overall we're tracking about where we expected. Full breakdown available if useful.</p><p>Cheers,</p>",
	"<p>Hi,</p><p>Looping back on this. No rush at all, just keeping it on your radar so it doesn't slip through the cracks.</p><p>Best regards,</p>",
	"<p>Hello,</p><p>Great speaking with you earlier. As promised, I'll send the summary by end of week. Shout if you need it sooner.</p><p>Talk soon,</p>",
	"<p>Hi,</p><p>We made some good progress on the draft. A couple of open questions remain; I've flagged them inline. Keen to hear your take.</p><p>Thanks,</p>",
	"<p>Hey there,</p><p>Confirming I received everything on my side. Next step is the review round, which should take a couple of days.</p><p>Best,</p>",
}

// pickWarmupContent returns a pseudo-random subject/body pair.
func pickWarmupContent() (subject, body string) {
	return warmupSubjects[rand.Intn(len(warmupSubjects))],
		warmupBodies[rand.Intn(len(warmupBodies))]
}
