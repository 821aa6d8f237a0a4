package firmware

// Pin describes one controller pin offered in the device configuration UI.
type Pin struct {
	Val  int    `json:"val"`
	Text string `json:"text"`
	Type string `json:"type"`
}

var leonardoRevC = []Pin{
	{6, " 6 (Act 1)", "act"},
	{5, " 5 (Act 2)", "act"},
	{2, " 2 (Act 3)", "act"},
	{23, "A5 (Act 4)", "act"},
	{4, " 4 (Door)", "door"},
	{22, "A4 (OneWire)", "onewire"},
	{3, " 3", "beep"},
	{7, " 7", "rotary"},
	{8, " 8", "rotary"},
	{9, " 9", "rotary"},
	{10, "10", "spi"},
	{0, " 0", "free"},
	{1, " 1", "free"},
	{11, "11", "free"},
	{12, "12", "free"},
	{13, "13", "free"},
	{18, "A0", "free"},
	{19, "A1", "free"},
	{20, "A2", "free"},
	{21, "A3", "free"},
}

var standardRevC = []Pin{
	{5, " 5 (Act 1)", "act"},
	{6, " 6 (Act 2)", "act"},
	{2, " 2 (Act 3)", "act"},
	{19, "A5 (Act 4)", "act"},
	{4, " 4 (Door)", "door"},
	{18, "A4 (OneWire)", "onewire"},
	{3, " 3", "beep"},
	{7, " 7", "rotary"},
	{8, " 8", "rotary"},
	{9, " 9", "rotary"},
	{10, "10", "spi"},
	{0, " 0", "free"},
	{1, " 1", "free"},
	{11, "11", "free"},
	{12, "12", "free"},
	{13, "13", "free"},
	{14, "A0", "free"},
	{15, "A1", "free"},
	{16, "A2", "free"},
	{17, "A3", "free"},
}

var standardRevA = []Pin{
	{2, " 2 (Act 1)", "act"},
	{3, " 3 (Act 2)", "act"},
	{4, " 4 (Door)", "door"},
	{5, " 5 (Act 3)", "act"},
	{6, " 6", "beep"},
	{7, " 7", "rotary"},
	{8, " 8", "rotary"},
	{9, " 9", "rotary"},
	{10, "10", "spi"},
	{14, "A0 (OneWire)", "onewire"},
	{0, " 0", "free"},
	{1, " 1", "free"},
	{11, "11", "free"},
	{12, "12", "free"},
	{13, "13", "free"},
	{15, "A1", "free"},
	{16, "A2", "free"},
	{17, "A3", "free"},
	{18, "A4", "free"},
	{19, "A5", "free"},
}

var esp8266 = []Pin{
	{16, "D0 (Heat)", "act"},
	{14, "D5 (Cool)", "act"},
	{13, "D7 (Door)", "door"},
	{12, "D6 (OneWire)", "onewire"},
	{0, "D3 (Buzzer)", "beep"},
	{5, "D1 (I2C SCL)", "free"},
	{4, "D2 (I2C SDA)", "free"},
	{2, "D4", "free"},
}

var esp32 = []Pin{
	{25, "25 (Heat)", "act"},
	{26, "26 (Cool)", "act"},
	{13, "13 (OneWire)", "onewire"},
	{34, "34 (Door)", "door"},
	{5, " 5", "free"},
	{14, "14", "free"},
	{27, "27", "free"},
	{32, "32", "free"},
	{33, "33", "free"},
}

// PinList returns the pin map for a board and shield combination, or an
// empty list when the combination is not known.
func PinList(board, shield string) []Pin {
	var pins []Pin
	switch {
	case board == "l" && shield == "2":
		pins = leonardoRevC
	case board == "s" && shield == "2":
		pins = standardRevC
	case (board == "s" || board == "l") && shield == "1":
		pins = standardRevA
	case board == "e":
		pins = esp8266
	case board == "3":
		pins = esp32
	default:
		return []Pin{}
	}
	return append([]Pin(nil), pins...)
}
