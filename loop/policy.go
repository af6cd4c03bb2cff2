package loop

// Policy decides how many attempts run before a decision is solicited.
type Policy interface {
	// retries is the number of unattended resumes after the first attempt.
	retries() int
}

// Unattended retries up to Budget more times after the first attempt,
// stopping early on success, before asking for feedback.
type Unattended struct {
	Budget int
}

func (u Unattended) retries() int {
	if u.Budget < 0 {
		return 0
	}
	return u.Budget
}

// Interactive asks for feedback after every failed attempt.
type Interactive struct{}

func (Interactive) retries() int { return 0 }
