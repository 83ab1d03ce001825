package convert

// wellKnownServices names the services behind the default probe ports.
var wellKnownServices = map[int]string{
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "dns",
	80:   "http",
	110:  "pop3",
	143:  "imap",
	443:  "https",
	445:  "smb",
	993:  "imaps",
	995:  "pop3s",
	3306: "mysql",
	3389: "rdp",
	5432: "postgresql",
	8080: "http-alt",
	8443: "https-alt",
}

// UnknownService names ports missing from the table.
const UnknownService = "unknown"

// ServiceName returns the well-known service for a TCP port.
func ServiceName(port int) string {
	if name, ok := wellKnownServices[port]; ok {
		return name
	}
	return UnknownService
}
