package appointment

import (
	"math/rand"
	"time"
)

// Provider produces appointment records from some source. The waiting-room
// logic never depends on where records come from.
type Provider interface {
	Appointments(clinicID string, day time.Time, count int) []*Appointment
}

// DemoProvider fabricates a day of bookings for demos and local development.
// A fixed seed yields the same agenda on every run.
type DemoProvider struct {
	rnd *rand.Rand
}

func NewDemoProvider(seed int64) *DemoProvider {
	return &DemoProvider{rnd: rand.New(rand.NewSource(seed))}
}

var (
	demoPatients = []string{
		"Ana Souza", "Bruno Lima", "Carla Mendes", "Diego Rocha", "Elisa Martins",
		"Felipe Costa", "Gabriela Alves", "Henrique Dias", "Isabela Nunes", "João Pereira",
		"Larissa Gomes", "Marcos Ribeiro",
	}
	demoServices = []string{
		"Consulta de rotina", "Retorno", "Avaliação inicial", "Exame de sangue", "Eletrocardiograma",
	}
	demoProfessionals = []string{
		"Dra. Marina Castro", "Dr. Paulo Henrique", "Dra. Beatriz Fonseca",
	}
)

// Appointments returns count bookings on day, every 20 minutes from 08:00.
func (p *DemoProvider) Appointments(clinicID string, day time.Time, count int) []*Appointment {
	start := time.Date(day.Year(), day.Month(), day.Day(), 8, 0, 0, 0, day.Location())
	out := make([]*Appointment, 0, count)
	for i := 0; i < count; i++ {
		status := StatusPending
		if p.rnd.Intn(3) > 0 {
			status = StatusConfirmed
		}
		out = append(out, &Appointment{
			ClinicID:         clinicID,
			ScheduledTime:    start.Add(time.Duration(i) * 20 * time.Minute),
			PatientName:      demoPatients[p.rnd.Intn(len(demoPatients))],
			ServiceName:      demoServices[p.rnd.Intn(len(demoServices))],
			ProfessionalName: demoProfessionals[p.rnd.Intn(len(demoProfessionals))],
			Status:           status,
			Urgent:           p.rnd.Intn(10) == 0,
		})
	}
	return out
}
