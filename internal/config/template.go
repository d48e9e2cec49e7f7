package config

// Template is the starter migration_config.yaml written by "cloudify -init".
const Template = `# Cloudify migration configuration.

source:
  root_path: ""            # path to the application to migrate (required)
  backend_path: backend    # Java backend, relative to root_path
  frontend_path: frontend  # JS frontend, relative to root_path

gcp:
  project_id: ""           # target GCP project (required)
  region: us-central1
  zone: us-central1-a
  # service_account_key: /path/to/key.json

backend:
  service_name: backend-api
  port: 8080
  memory: 512Mi
  cpu: "1"
  min_instances: 0
  max_instances: 3
  concurrency: 80
  jvm_opts: "-Xmx384m -Xms128m"
  java_version: "17"

frontend:
  site_name: ""            # Firebase Hosting site; defaults to the project ID
  build_command: npm run build
  build_output: build
  node_version: "18"

database:
  strategy: keep-h2        # keep-h2 | migrate-to-cloud-sql
  cloudsql:
    instance_name: app-db
    tier: db-f1-micro
    database_name: appdb
    database_version: POSTGRES_15

advisor:
  base_url: https://api.anthropic.com
  api_key_env: ANTHROPIC_API_KEY
  max_tokens: 4096
  models:
    analysis: claude-sonnet-4-5
    database: claude-sonnet-4-5
    deployment: claude-sonnet-4-5
    recommendation: claude-sonnet-4-5

execution:
  mode: interactive        # interactive | automated
  parallel_deployments: true
  max_retries: 3
  retry_base_seconds: 2
  command_timeout_seconds: 300
  wait_timeout_seconds: 600
  wait_poll_seconds: 5
  generate_report: true
  report_dir: .
`
