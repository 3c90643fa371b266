package server

type Order struct {
	ID int
}
