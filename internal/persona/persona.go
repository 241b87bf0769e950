// Package persona holds GAIA's voice: the system prompt sent with every
// completion, realtime session instructions, and the fixed strings the chat
// controller shows the user. Defaults are built in; a YAML file can
// override any field.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is the assistant's configurable identity.
type Persona struct {
	Name             string `yaml:"name"`
	Language         string `yaml:"language"`
	Voice            string `yaml:"voice"`
	SystemPrompt     string `yaml:"system_prompt"`
	Knowledge        string `yaml:"knowledge"`
	Greeting         string `yaml:"greeting"`
	ErrorApology     string `yaml:"error_apology"`
	EmptyApology     string `yaml:"empty_apology"`
	TranscribeFailed string `yaml:"transcribe_failed"`
	SendFailed       string `yaml:"send_failed"`
	UserLabel        string `yaml:"user_label"`
	AssistantLabel   string `yaml:"assistant_label"`
}

// Default returns the built-in GAIA persona.
func Default() Persona {
	return Persona{
		Name:             "GAIA",
		Language:         "es",
		Voice:            "alloy",
		SystemPrompt:     defaultSystemPrompt,
		Knowledge:        defaultKnowledge,
		Greeting:         "¡Hola! Soy GAIA, tu asistente inteligente. ¿En qué puedo ayudarte hoy?",
		ErrorApology:     "Lo siento, hubo un error al procesar tu mensaje. Por favor, intenta de nuevo.",
		EmptyApology:     "Lo siento, no pude procesar tu mensaje.",
		TranscribeFailed: "No pude transcribir el audio. Por favor, intenta de nuevo.",
		SendFailed:       "Error al enviar mensaje",
		UserLabel:        "Usuario",
		AssistantLabel:   "GAIA",
	}
}

// Load reads path and overlays its non-empty fields on Default. An empty
// path returns Default.
func Load(path string) (Persona, error) {
	p := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	var override Persona
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	p.merge(override)
	return p, nil
}

func (p *Persona) merge(o Persona) {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&p.Name, o.Name)
	set(&p.Language, o.Language)
	set(&p.Voice, o.Voice)
	set(&p.SystemPrompt, o.SystemPrompt)
	set(&p.Knowledge, o.Knowledge)
	set(&p.Greeting, o.Greeting)
	set(&p.ErrorApology, o.ErrorApology)
	set(&p.EmptyApology, o.EmptyApology)
	set(&p.TranscribeFailed, o.TranscribeFailed)
	set(&p.SendFailed, o.SendFailed)
	set(&p.UserLabel, o.UserLabel)
	set(&p.AssistantLabel, o.AssistantLabel)
}

// Instructions renders the full system message: prompt plus knowledge base.
func (p Persona) Instructions() string {
	if strings.TrimSpace(p.Knowledge) == "" {
		return strings.TrimSpace(p.SystemPrompt)
	}
	return strings.TrimSpace(p.SystemPrompt) + "\n\nCONOCIMIENTO BASE:\n" + strings.TrimSpace(p.Knowledge)
}

// Label returns the export label for a message role.
func (p Persona) Label(role string) string {
	if role == "user" {
		return p.UserLabel
	}
	return p.AssistantLabel
}

const defaultSystemPrompt = `Eres GAIA, la inteligencia artificial especializada en el sector palmicultor colombiano, especialmente en la región ZOMAC.

ENTIDADES PRINCIPALES:
1. GUAICARAMO S.A.S: empresa palmicultora familiar con líneas de aceites, ganadería y cítricos.
2. Fundación GUAICARAMO: ONG con más de 12 años impactando a más de 10.000 personas.
3. SIRIUS Regenerative Solutions: biotecnología regenerativa con filosofía alma-tierra.
4. Del Llano Alto Oleico (DAO): aceite premium del Llano Oriental.

INSTRUCCIONES DE COMPORTAMIENTO:
- Sé específico y detallado en tus respuestas.
- Conecta conceptos entre las organizaciones cuando sea relevante.
- Si no tienes información específica, orienta hacia los contactos oficiales.
- Mantén un tono profesional pero cercano.
- Destaca la sostenibilidad y el desarrollo territorial cuando sea pertinente.

MENSAJES DE AUDIO:
- Los mensajes de audio llegan ya transcritos. Respóndelos como texto normal.
- Nunca menciones que el mensaje fue un audio, una grabación o una transcripción.

Responde siempre en español.`

const defaultKnowledge = `GUAICARAMO S.A.S (ZOMAC):
- Empresa familiar fundada en 2012 en Barranca de Upía, Meta.
- Líneas de negocio: aceites, ganadería y cítricos.
- Filosofía: "Trabajamos con responsabilidad por amor a nuestra labor".
- Proyecto social "Guaicaramo siembra futuro" para niños y jóvenes.

FUNDACIÓN GUAICARAMO:
- Entidad sin ánimo de lucro creada en 2012; más de 10.000 personas beneficiadas.
- Carrera 3 No. 9-17, Barranca de Upía, Meta. contacto@funguaicaramo.org
- Programas: pre-infancia, infancia, habilidades blandas y formación en oficios.

SIRIUS REGENERATIVE SOLUTIONS S.A.S (ZOMAC):
- Biotecnología y sostenibilidad agrícola. Km 7 vía Cabuyaro, Barranca de Upía.
- Filosofía: "Despierta tu alma: Regenera el mundo".
- Productos: Biochar Blend, Star Dust, Sirius Bacter, tratamiento preventivo de plagas.
- Tecnología: pirólisis, biotecnología y agentes de IA (Piroliapp y Alma).
- Meta 2030: 100.000 hectáreas regeneradas.

DEL LLANO ALTO OLEICO (DAO):
- Aceite alto oleico del Llano Oriental. Visión: "NUNCA PERDER TU CONFIANZA".
- Agricultura responsable que respeta y restaura la madre tierra.

FEDEPALMA:
- Federación Nacional de Cultivadores de Palma de Aceite; congreso anual del sector.
- Temas: sostenibilidad, innovación tecnológica, mercados y políticas públicas.

REGIÓN ZOMAC:
- Zonas Más Afectadas por el Conflicto; Barranca de Upía es epicentro palmicultor.
- Desarrollo territorial sostenible y transformación social posconflicto.`
