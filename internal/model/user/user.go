package user

// Plan is a subscription tier. It decides the daily message cap.
type Plan string

const (
	PlanGuest    Plan = "guest"
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanFounders Plan = "founders"
)

// User is the authenticated caller. Founder marks elevated access.
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Plan    Plan   `json:"plan"`
	Founder bool   `json:"founder"`
}

// Elevated reports founders access, either by flag or by plan.
func (u User) Elevated() bool {
	return u.Founder || u.Plan == PlanFounders
}

// Guest reports an anonymous session.
func (u User) Guest() bool {
	return u.Plan == PlanGuest
}
