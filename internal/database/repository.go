package database

// AccountRepository resolves authenticated-user descriptors at the
// connection boundary. Room state never touches the store.
type AccountRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
}
