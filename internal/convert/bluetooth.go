package convert

// Class-of-device masks.
const (
	minorClassMask = 0x0FFC
	majorClassMask = 0x1F00
)

// deviceClasses maps masked class-of-device values to a description. Major
// classes appear with empty minor bits so they also match the minor mask.
var deviceClasses = map[int]string{
	0x0100: "Computer",
	0x0104: "Desktop",
	0x0108: "Server",
	0x010C: "Laptop",
	0x0110: "Handheld PC",
	0x0114: "Palm PC",
	0x0118: "Wearable Computer",
	0x0200: "Phone",
	0x0204: "Cellular Phone",
	0x0208: "Cordless Phone",
	0x020C: "Smartphone",
	0x0210: "Modem",
	0x0214: "ISDN Access",
	0x0300: "Network Access Point",
	0x0400: "Audio/Video",
	0x0404: "Headset",
	0x0408: "Hands-free",
	0x0410: "Microphone",
	0x0414: "Loudspeaker",
	0x0418: "Headphones",
	0x041C: "Portable Audio",
	0x0420: "Car Audio",
	0x0424: "Set-top Box",
	0x0428: "HiFi Audio",
	0x042C: "VCR",
	0x0430: "Video Camera",
	0x0434: "Camcorder",
	0x0438: "Video Monitor",
	0x043C: "Video Display and Loudspeaker",
	0x0440: "Video Conferencing",
	0x0448: "Gaming/Toy",
	0x0500: "Peripheral",
	0x0540: "Keyboard",
	0x0580: "Pointing Device",
	0x05C0: "Keyboard/Pointing",
	0x0600: "Imaging",
	0x0610: "Display",
	0x0620: "Camera",
	0x0640: "Scanner",
	0x0680: "Printer",
	0x0700: "Wearable",
	0x0704: "Wristwatch",
	0x0708: "Pager",
	0x070C: "Jacket",
	0x0710: "Helmet",
	0x0714: "Glasses",
	0x0800: "Toy",
	0x0804: "Robot",
	0x0808: "Vehicle",
	0x080C: "Doll",
	0x0810: "Controller",
	0x0814: "Game",
	0x0900: "Health",
}

// majorClasses is the fallback when the minor bits are not in the table.
var majorClasses = map[int]string{
	0x0000: "Miscellaneous",
	0x0100: "Computer",
	0x0200: "Phone",
	0x0300: "Network Access Point",
	0x0400: "Audio/Video",
	0x0500: "Peripheral",
	0x0600: "Imaging",
	0x0700: "Wearable",
	0x0800: "Toy",
	0x0900: "Health",
	0x1F00: "Uncategorized",
}

// UnknownClass is returned for unclassifiable class codes.
const UnknownClass = "Unknown"

// ClassifyBluetoothClass describes a 24-bit class-of-device code: the minor
// class when known, else the major class, else Unknown.
func ClassifyBluetoothClass(code int) string {
	if code <= 0 {
		return UnknownClass
	}
	if name, ok := deviceClasses[code&minorClassMask]; ok {
		return name
	}
	if major := code & majorClassMask; major != 0 {
		if name, ok := majorClasses[major]; ok {
			return name
		}
	}
	return UnknownClass
}
