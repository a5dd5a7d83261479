package entities

type ReservationEmailData struct {
	Title              string
	Intro              string
	UserName           string
	ReservationCode    string
	LotName            string
	VehiclePlate       string
	StartTimeFormatted string
	EndTimeFormatted   string
	TicketCode         string
	Amount             string
	CurrentYear        int
}
