package prompt

// exampleAutomation is shown to the model as the shape to return.
const exampleAutomation = `alias: Motion activated light
description: ""
trigger:
  - platform: state
    entity_id:
      - binary_sensor.sensor1
    from: "off"
    to: "on"
condition: []
action:
  - service: light.turn_on
    data: {}
    target:
      entity_id: light.light1
mode: single
`

const instructions = `It turns on light.light1 if binary_sensor.sensor1 state changes from off to on. If the user requests a similar query, return that yaml automation configuration. Only return the yaml configuration without explanation`

// SystemTemplate is the system prompt for the local text/template renderer.
const SystemTemplate = `
This is an example light yaml automation configuration:

` + exampleAutomation + `
` + instructions + `

These sensors are available:
{{range .binary_sensors}}
entity_id: {{.entity_id}} name: {{.name}},
{{end}}

These lights are available:
{{range .lights}}
entity_id: {{.entity_id}} name: {{.name}},
{{end}}
`

// SystemTemplateJinja is the same prompt for Home Assistant's /api/template.
const SystemTemplateJinja = `
This is an example light yaml automation configuration:

` + exampleAutomation + `
` + instructions + `

These sensors are available:
{% for s in binary_sensors %}
entity_id: {{ s.entity_id }} name: {{ s.name }},
{% endfor %}

These lights are available:
{% for l in lights %}
entity_id: {{ l.entity_id }} name: {{ l.name }},
{% endfor %}
`
