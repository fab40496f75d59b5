package usercontext

const (
	// KeyUserContext holds the resolved UserContext in fiber Locals.
	KeyUserContext = "USER_CONTEXT"
	// KeyUserID is the session field the login service writes the user id to.
	KeyUserID = "user_id"
)
