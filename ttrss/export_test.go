package ttrss

// ResumeSession wraps a token issued by an earlier login.
func ResumeSession(token string) Session {
	return Session{token: token}
}
